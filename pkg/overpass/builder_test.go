package overpass

import (
	"strings"
	"testing"
)

func TestBuilderSingleStatement(t *testing.T) {
	query := NewBuilder().
		WithArea("Naga City").
		WithRelation(Tag("boundary", "administrative"), Tag("name", "Naga City")).
		Build()

	want := "[out:json][timeout:25];\n" +
		"area[name=\"Naga City\"]->.searchArea;\n" +
		"relation[\"boundary\"=\"administrative\"][\"name\"=\"Naga City\"](area.searchArea);\n" +
		"out geom;"
	if query != want {
		t.Errorf("query mismatch:\n got %q\nwant %q", query, want)
	}
}

func TestBuilderUnion(t *testing.T) {
	query := NewBuilder().
		WithArea("Naga City").
		WithWay(TagRegex("waterway", "river|stream")).
		WithRelation(TagRegex("waterway", "river|stream")).
		Build()

	want := "[out:json][timeout:25];\n" +
		"area[name=\"Naga City\"]->.searchArea;\n" +
		"(\n" +
		"  way[\"waterway\"~\"river|stream\"](area.searchArea);\n" +
		"  relation[\"waterway\"~\"river|stream\"](area.searchArea);\n" +
		");\n" +
		"out geom;"
	if query != want {
		t.Errorf("query mismatch:\n got %q\nwant %q", query, want)
	}
}

func TestBuilderTimeoutAndOutput(t *testing.T) {
	query := NewBuilder().
		WithTimeout(90).
		WithWay(Tag("waterway", "river")).
		WithOutput("meta").
		Build()

	if !strings.Contains(query, "[timeout:90]") {
		t.Errorf("expected timeout 90 in query: %q", query)
	}
	if !strings.HasSuffix(query, "out meta;") {
		t.Errorf("expected meta output statement: %q", query)
	}
	if strings.Contains(query, "searchArea") {
		t.Errorf("expected no area scoping without WithArea: %q", query)
	}
}

func TestWaterwayQuery(t *testing.T) {
	query := WaterwayQuery("Naga City")

	for _, fragment := range []string{
		"[out:json]",
		`area[name="Naga City"]->.searchArea;`,
		`way["waterway"~"river|stream"](area.searchArea);`,
		`relation["waterway"~"river|stream"](area.searchArea);`,
		"out geom;",
	} {
		if !strings.Contains(query, fragment) {
			t.Errorf("missing fragment %q in query:\n%s", fragment, query)
		}
	}
}

func TestBoundaryQuery(t *testing.T) {
	query := BoundaryQuery("Naga City")

	for _, fragment := range []string{
		`relation["boundary"="administrative"]["name"="Naga City"](area.searchArea);`,
		"out geom;",
	} {
		if !strings.Contains(query, fragment) {
			t.Errorf("missing fragment %q in query:\n%s", fragment, query)
		}
	}
	if strings.Contains(query, "way[") {
		t.Errorf("boundary query must not select ways:\n%s", query)
	}
}
