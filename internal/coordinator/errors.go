package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a response the server rejected, with its decoded message.
type StatusError struct {
	Method  string
	URL     string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, msg)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Transient reports whether the failure is a server-side fault the user may
// retry by hand.
func (e *StatusError) Transient() bool {
	return e.Status >= 500
}

// StatusOf extracts the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsRejection reports whether the server refused the request itself, a
// 4xx other than 401. Local state behind such a request is likely stale.
func IsRejection(err error) bool {
	status := StatusOf(err)
	return status >= 400 && status < 500 && status != http.StatusUnauthorized
}

// MessageOf returns the server message carried by err, falling back to the
// error text.
func MessageOf(err error) string {
	var se *StatusError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

type envelope struct {
	Success *bool           `json:"success"`
	Message json.RawMessage `json:"message"`
}

// decodeMessage accepts the API's message field as a string or a list of
// strings.
func decodeMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return strings.Trim(string(raw), `"`)
}
