package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Flag is a loosely typed success indicator: true, "success", "ok", 1 and so
// on are truthy; false, "error", "failed", 0 and "" are falsy.
type Flag struct {
	Set   bool
	Value bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = Flag{}
		return nil
	}
	value, err := parseFlag(trimmed)
	if err != nil {
		return err
	}
	*f = Flag{Set: true, Value: value}
	return nil
}

func parseFlag(raw []byte) (bool, error) {
	if len(raw) == 0 {
		return false, errors.New("empty flag")
	}
	switch raw[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return false, err
		}
		return b, nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "success", "ok", "1", "valid", "verified":
			return true, nil
		default:
			return false, nil
		}
	default:
		n, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return false, fmt.Errorf("unsupported flag %s", raw)
		}
		return n != 0, nil
	}
}

// Envelope is the {status, message, data} wrapper most endpoints use.
type Envelope[T any] struct {
	Status  Flag   `json:"status"`
	Success Flag   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// OK reports whether the envelope signals success. An absent status field is
// treated as success; the HTTP status already passed.
func (e Envelope[T]) OK() bool {
	if e.Status.Set && !e.Status.Value {
		return false
	}
	if e.Success.Set && !e.Success.Value {
		return false
	}
	return true
}

// Err returns nil for successful envelopes and a Rejected error otherwise.
func (e Envelope[T]) Err() error {
	if e.OK() {
		return nil
	}
	return Rejected(e.Message)
}

var signalKeys = []string{"status", "success", "valid", "verified"}

// DecodeSignal interprets a boolean-equivalent success response: a bare
// boolean, or an object whose status/success/valid/verified fields and nested
// data are all truthy. An object carrying no signal at all is an error.
func DecodeSignal(raw []byte) (bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false, errors.New("empty success signal")
	}
	if trimmed[0] != '{' {
		return parseFlag(trimmed)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return false, fmt.Errorf("decode success signal: %w", err)
	}
	found := false
	for _, key := range signalKeys {
		v, ok := obj[key]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		value, err := parseFlag(bytes.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("decode %s: %w", key, err)
		}
		if !value {
			return false, nil
		}
		found = true
	}
	if data, ok := obj["data"]; ok {
		inner := bytes.TrimSpace(data)
		if len(inner) > 0 && !bytes.Equal(inner, []byte("null")) && (inner[0] == '{' || inner[0] == 't' || inner[0] == 'f') {
			value, err := DecodeSignal(inner)
			switch {
			case err == nil:
				if !value {
					return false, nil
				}
				found = true
			case !found:
				return false, err
			}
		}
	}
	if !found {
		return false, errors.New("response carries no success signal")
	}
	return true, nil
}
