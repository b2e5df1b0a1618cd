package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrRejected marks a 2xx response whose success field was falsy.
var ErrRejected = errors.New("request rejected")

// APIError is a non-2xx response with the server's error payload.
type APIError struct {
	Path       string
	StatusCode int
	Message    string
	Code       string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Path, e.StatusCode, e.Message)
}

func newAPIError(path string, status int, body []byte) *APIError {
	apiErr := &APIError{Path: path, StatusCode: status, Body: append([]byte(nil), body...)}
	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
		Msg     string          `json:"msg"`
		Code    json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = firstText(payload.Message, payload.Error)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(payload.Msg)
		}
		apiErr.Code = strings.Trim(string(bytes.TrimSpace(payload.Code)), `"`)
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" || len(apiErr.Message) > 200 {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// firstText returns the first field that is a string, or an object carrying a
// string message.
func firstText(fields ...json.RawMessage) string {
	for _, raw := range fields {
		if len(raw) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && strings.TrimSpace(nested.Message) != "" {
			return strings.TrimSpace(nested.Message)
		}
	}
	return ""
}

// Rejected wraps a server-provided reason in ErrRejected.
func Rejected(message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrRejected
	}
	return fmt.Errorf("%w: %s", ErrRejected, message)
}

// UserMessage picks the text to show a user for err. Server-provided reasons
// win; transport failures collapse to fallback.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, ErrRejected) {
		if _, reason, ok := strings.Cut(err.Error(), ErrRejected.Error()+": "); ok && reason != "" {
			return reason
		}
	}
	return fallback
}
