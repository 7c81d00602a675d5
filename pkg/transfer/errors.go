package transfer

import "fmt"

// TransferError is returned once every attempt for a file has failed.
// Err is the cause of the last attempt.
type TransferError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("download failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// StatusError carries the status and a body snippet for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http error: %s %s status=%d body=%s", e.Method, e.URL, e.StatusCode, snippet(e.Body, 200))
}

// permanentError marks an attempt failure that no retry can fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}
