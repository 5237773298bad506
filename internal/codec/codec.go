// Package codec converts request and response bodies at the gateway
// boundary.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MimeJSON is the content type produced by JSON.
const MimeJSON = "application/json"

// ErrorBody is the encoded form of an error result.
type ErrorBody struct {
	Error string `json:"error"`
}

// JSON is the default codec. Numbers decode as float64, objects as
// map[string]any and arrays as []any.
type JSON struct{}

// Decode parses a single JSON value. Trailing data is rejected.
func (JSON) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode body: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode body: trailing data after JSON value")
	}
	return v, nil
}

// Encode serializes v. Error values are encoded as ErrorBody.
func (JSON) Encode(v any) ([]byte, error) {
	if err, ok := v.(error); ok {
		v = ErrorBody{Error: err.Error()}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	return b, nil
}

// MimeType reports the content type of encoded bodies.
func (JSON) MimeType() string { return MimeJSON }
