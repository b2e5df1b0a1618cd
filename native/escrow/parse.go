package escrow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ParseError reports a server payload that could not be turned into a typed
// escrow. Field is a dotted path such as "transactions[2].amount".
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("escrow: invalid %s: %s", e.Field, e.Reason)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

// ParseEscrow validates a raw escrow payload. Numeric identifiers and amounts
// may arrive as JSON numbers or numeric strings; anything else is rejected.
// Absent optional fields stay nil rather than receiving placeholder values.
func ParseEscrow(raw []byte) (*Escrow, error) {
	return parseEscrow(raw, "escrow")
}

// ParseEscrowList validates a JSON array of escrow payloads. A null or absent
// list yields an empty slice.
func ParseEscrowList(raw []byte) ([]*Escrow, error) {
	if isNull(raw) {
		return []*Escrow{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ParseError{Field: "escrows", Reason: "expected array"}
	}
	out := make([]*Escrow, 0, len(items))
	for i, item := range items {
		e, err := parseEscrow(item, fmt.Sprintf("escrows[%d]", i))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func parseEscrow(raw []byte, path string) (*Escrow, error) {
	obj, err := object(raw, path)
	if err != nil {
		return nil, err
	}
	var e Escrow
	if e.ID, err = requiredInt(obj, path+".id", "id"); err != nil {
		return nil, err
	}
	if e.Ref, err = requiredString(obj, path+".escrow_ref", "escrow_ref", "escrowRef"); err != nil {
		return nil, err
	}
	if e.Payer, err = requiredUser(obj, path+".payer", "payer"); err != nil {
		return nil, err
	}
	if e.Payee, err = requiredUser(obj, path+".payee", "payee"); err != nil {
		return nil, err
	}
	if e.Amount, err = requiredAmount(obj, path+".amount", "amount"); err != nil {
		return nil, err
	}
	if !e.Amount.IsPositive() {
		return nil, &ParseError{Field: path + ".amount", Reason: "must be positive"}
	}
	if v, ok := lookup(obj, "description"); ok {
		var desc string
		if err := json.Unmarshal(v, &desc); err != nil {
			return nil, &ParseError{Field: path + ".description", Reason: "expected string"}
		}
		e.Description = &desc
	}
	status, err := requiredString(obj, path+".status", "status")
	if err != nil {
		return nil, err
	}
	e.Status = Status(strings.ToLower(status))
	if !e.Status.Valid() {
		return nil, &ParseError{Field: path + ".status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	if v, ok := lookup(obj, "expires_at", "expiresAt"); ok {
		ts, err := parseTime(v, path+".expires_at")
		if err != nil {
			return nil, err
		}
		e.ExpiresAt = &ts
	}
	v, ok := lookup(obj, "created_at", "createdAt")
	if !ok {
		return nil, &ParseError{Field: path + ".created_at", Reason: "required"}
	}
	if e.CreatedAt, err = parseTime(v, path+".created_at"); err != nil {
		return nil, err
	}
	if v, ok := lookup(obj, "time_left", "timeLeft"); ok {
		text, ok := numberText(v)
		if !ok {
			return nil, &ParseError{Field: path + ".time_left", Reason: "expected number"}
		}
		secs, err := decimal.NewFromString(text)
		if err != nil || secs.IsNegative() {
			return nil, &ParseError{Field: path + ".time_left", Reason: "expected non-negative seconds"}
		}
		left := time.Duration(secs.IntPart()) * time.Second
		e.TimeLeft = &left
	}
	e.Transactions = []Transaction{}
	if v, ok := lookup(obj, "transactions"); ok {
		var items []json.RawMessage
		if err := json.Unmarshal(v, &items); err != nil {
			return nil, &ParseError{Field: path + ".transactions", Reason: "expected array"}
		}
		for i, item := range items {
			tx, err := parseTransaction(item, fmt.Sprintf("%s.transactions[%d]", path, i))
			if err != nil {
				return nil, err
			}
			e.Transactions = append(e.Transactions, tx)
		}
	}
	return &e, nil
}

func parseTransaction(raw []byte, path string) (Transaction, error) {
	var tx Transaction
	obj, err := object(raw, path)
	if err != nil {
		return tx, err
	}
	if tx.ID, err = requiredInt(obj, path+".id", "id"); err != nil {
		return tx, err
	}
	if tx.EscrowID, err = requiredInt(obj, path+".escrow_id", "escrow_id", "escrowId"); err != nil {
		return tx, err
	}
	action, err := requiredString(obj, path+".action", "action")
	if err != nil {
		return tx, err
	}
	if tx.Action, err = ParseAction(action); err != nil {
		return tx, &ParseError{Field: path + ".action", Reason: fmt.Sprintf("unknown action %q", action)}
	}
	if tx.Actor, err = requiredUser(obj, path+".actor", "actor"); err != nil {
		return tx, err
	}
	if tx.Amount, err = requiredAmount(obj, path+".amount", "amount"); err != nil {
		return tx, err
	}
	v, ok := lookup(obj, "created_at", "createdAt")
	if !ok {
		return tx, &ParseError{Field: path + ".created_at", Reason: "required"}
	}
	tx.CreatedAt, err = parseTime(v, path+".created_at")
	return tx, err
}

func requiredUser(obj map[string]json.RawMessage, path string, keys ...string) (EscrowUser, error) {
	var u EscrowUser
	v, ok := lookup(obj, keys...)
	if !ok {
		return u, &ParseError{Field: path, Reason: "required"}
	}
	fields, err := object(v, path)
	if err != nil {
		return u, err
	}
	if u.ID, err = requiredID(fields, path+".id", "id"); err != nil {
		return u, err
	}
	if u.FullName, err = optionalString(fields, path+".full_name", "full_name", "fullName"); err != nil {
		return u, err
	}
	if u.Username, err = optionalString(fields, path+".username", "username"); err != nil {
		return u, err
	}
	u.Username = NormalizeID(u.Username)
	return u, nil
}

func object(raw []byte, path string) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ParseError{Field: path, Reason: "expected object"}
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, &ParseError{Field: path, Reason: err.Error()}
	}
	return out, nil
}

func lookup(obj map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, key := range keys {
		if v, ok := obj[key]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

func isNull(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// numberText returns the textual form of a JSON number or numeric string.
func numberText(raw []byte) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		if _, err := decimal.NewFromString(s); err != nil {
			return "", false
		}
		return s, true
	}
	if trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9') {
		return string(trimmed), true
	}
	return "", false
}

func requiredInt(obj map[string]json.RawMessage, path string, keys ...string) (int64, error) {
	v, ok := lookup(obj, keys...)
	if !ok {
		return 0, &ParseError{Field: path, Reason: "required"}
	}
	text, ok := numberText(v)
	if !ok {
		return 0, &ParseError{Field: path, Reason: "expected numeric value"}
	}
	d, err := decimal.NewFromString(text)
	if err != nil || !d.IsInteger() {
		return 0, &ParseError{Field: path, Reason: "expected integer"}
	}
	return d.IntPart(), nil
}

func requiredAmount(obj map[string]json.RawMessage, path string, keys ...string) (decimal.Decimal, error) {
	v, ok := lookup(obj, keys...)
	if !ok {
		return decimal.Zero, &ParseError{Field: path, Reason: "required"}
	}
	text, ok := numberText(v)
	if !ok {
		return decimal.Zero, &ParseError{Field: path, Reason: "expected numeric value"}
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, &ParseError{Field: path, Reason: err.Error()}
	}
	return d, nil
}

// requiredID accepts a string or a number and renders it as a string.
func requiredID(obj map[string]json.RawMessage, path string, keys ...string) (string, error) {
	v, ok := lookup(obj, keys...)
	if !ok {
		return "", &ParseError{Field: path, Reason: "required"}
	}
	trimmed := bytes.TrimSpace(v)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil || strings.TrimSpace(s) == "" {
			return "", &ParseError{Field: path, Reason: "expected non-empty identifier"}
		}
		return NormalizeID(s), nil
	}
	if text, ok := numberText(trimmed); ok {
		d, err := decimal.NewFromString(text)
		if err == nil && d.IsInteger() {
			return d.String(), nil
		}
	}
	return "", &ParseError{Field: path, Reason: "expected string or integer identifier"}
}

func requiredString(obj map[string]json.RawMessage, path string, keys ...string) (string, error) {
	s, err := optionalString(obj, path, keys...)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", &ParseError{Field: path, Reason: "required"}
	}
	return s, nil
}

func optionalString(obj map[string]json.RawMessage, path string, keys ...string) (string, error) {
	v, ok := lookup(obj, keys...)
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", &ParseError{Field: path, Reason: "expected string"}
	}
	return strings.TrimSpace(s), nil
}

// parseTime accepts RFC3339 style strings or unix seconds.
func parseTime(raw []byte, path string) (time.Time, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] != '"' {
		secs, err := strconv.ParseInt(string(trimmed), 10, 64)
		if err != nil {
			return time.Time{}, &ParseError{Field: path, Reason: "expected timestamp"}
		}
		return time.Unix(secs, 0).UTC(), nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return time.Time{}, &ParseError{Field: path, Reason: "expected timestamp"}
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, &ParseError{Field: path, Reason: fmt.Sprintf("unrecognised timestamp %q", s)}
}
