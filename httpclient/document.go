package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// Document is a parsed JSON payload of unknown shape.
//
// Numbers are kept as json.Number so that re-serializing a Document
// reproduces the original values exactly.
type Document struct {
	value any
}

// ParseDocument parses data as a single JSON value.
func ParseDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json document: %w", err)
	}

	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode json document: unexpected data after top-level value")
	}

	return &Document{value: v}, nil
}

// Value returns the underlying value: map[string]any, []any, string,
// json.Number, bool or nil.
func (d *Document) Value() any {
	return d.value
}

// Obj returns the top-level object, if the document is one.
func (d *Document) Obj() (map[string]any, bool) {
	m, ok := d.value.(map[string]any)
	return m, ok
}

// Array returns the top-level array, if the document is one.
func (d *Document) Array() ([]any, bool) {
	a, ok := d.value.([]any)
	return a, ok
}

// Field returns the member key of an object document as a Document.
func (d *Document) Field(key string) (*Document, bool) {
	m, ok := d.Obj()
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	return &Document{value: v}, true
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.value)
}

// String returns the compact JSON text of the document.
func (d *Document) String() string {
	data, err := d.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid document: %v>", err)
	}
	return string(data)
}
