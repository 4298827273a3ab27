package upstream

// Result is the outcome of a single upstream call. Callers branch on OK
// instead of catching transport faults; error text is carried alongside
// the payload so handlers can decide between visible errors and sentinel
// fallbacks.
type Result struct {
	Body    []byte
	Status  int
	OK      bool
	ErrText string
}

// Success builds a successful result carrying the upstream payload.
func Success(body []byte, status int) Result {
	return Result{Body: body, Status: status, OK: true}
}

// Failure builds a failed result with the upstream's error text if
// available, else a generic message.
func Failure(status int, errText string) Result {
	if errText == "" {
		errText = "upstream request failed"
	}
	return Result{Status: status, OK: false, ErrText: errText}
}
