package inference

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDetectForwardsBodyVerbatim(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/detect" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"image":"base64data"}` {
			t.Errorf("body not forwarded verbatim: %s", body)
		}
		io.WriteString(w, `{"detections":[{"class":"gauge"}],"gaugePct":55.0}`)
	}))
	defer fake.Close()

	client := NewClient(fake.URL, testLogger())
	res := client.Detect(context.Background(), []byte(`{"image":"base64data"}`))

	if !res.OK {
		t.Fatalf("expected success, got %q", res.ErrText)
	}
	if string(res.Body) != `{"detections":[{"class":"gauge"}],"gaugePct":55.0}` {
		t.Errorf("unexpected payload: %s", res.Body)
	}
}

func TestDetectForwardsUpstreamErrorPayload(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"error":"no frame"}`)
	}))
	defer fake.Close()

	client := NewClient(fake.URL, testLogger())
	res := client.Detect(context.Background(), []byte(`{}`))

	// The detection service reports errors inside its JSON body. The
	// payload is what matters; callers serve it under their own status.
	if !res.OK {
		t.Fatalf("expected payload forwarding, got failure %q", res.ErrText)
	}
	if string(res.Body) != `{"error":"no frame"}` {
		t.Errorf("unexpected payload: %s", res.Body)
	}
}

func TestDetectUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", testLogger())
	res := client.Detect(context.Background(), []byte(`{}`))

	if res.OK {
		t.Fatal("expected failure for unreachable upstream")
	}
	if res.ErrText == "" {
		t.Error("expected an error message")
	}
}

func TestCheckHealth(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer fake.Close()

	client := NewClient(fake.URL, testLogger())
	if err := client.CheckHealth(); err != nil {
		t.Errorf("unexpected health check error: %v", err)
	}
}

func TestCheckHealthUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", testLogger())
	if err := client.CheckHealth(); err == nil {
		t.Error("expected health check error")
	}
}
