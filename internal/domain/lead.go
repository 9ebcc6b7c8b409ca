package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// LeadRecord is the data collected by the companion form. Any well-formed JSON
// value is accepted and forwarded as-is; numbers keep their original text.
type LeadRecord struct {
	fields interface{}
}

// ParseLeadRecord decodes an RPC payload.
func ParseLeadRecord(payload string) (*LeadRecord, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid lead payload: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid lead payload: trailing data after JSON value")
	}
	return &LeadRecord{fields: v}, nil
}

// MarshalJSON re-serializes the record.
func (l *LeadRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(l.fields); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Fields returns the top-level keys when the record is an object, for logging.
func (l *LeadRecord) Fields() []string {
	m, ok := l.fields.(map[string]interface{})
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
