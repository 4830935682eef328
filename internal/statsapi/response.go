package statsapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
)

// ErrResponseSent is returned by Send once a status has been written.
var ErrResponseSent = errors.New("statsapi: response already sent")

// response emits exactly one status and body per request. Handlers acquire it
// with newResponse and defer Close so every path ends with a status.
type response struct {
	w      http.ResponseWriter
	status int
	sent   bool
	closed bool
}

func newResponse(w http.ResponseWriter) *response {
	return &response{w: w}
}

// Send writes status and then body. A non-empty body is served as JSON.
func (r *response) Send(status int, body string) error {
	if r.sent {
		return ErrResponseSent
	}
	r.sent = true
	r.status = status

	header := r.w.Header()
	header.Set("Content-Length", strconv.Itoa(len(body)))
	if body != "" {
		header.Set("Content-Type", "application/json")
	}
	r.w.WriteHeader(status)
	if body == "" {
		return nil
	}
	if _, err := io.WriteString(r.w, body); err != nil {
		return err
	}
	return nil
}

// Close sends a bare 500 when nothing was sent and flushes the stream. Calls
// after the first are no-ops.
func (r *response) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	if !r.sent {
		err = r.Send(http.StatusInternalServerError, "")
	}
	if f, ok := r.w.(http.Flusher); ok {
		f.Flush()
	}
	return err
}

// Status is the status sent so far, or zero.
func (r *response) Status() int {
	return r.status
}
