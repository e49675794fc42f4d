package httpclient

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"reflect"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/net/html/charset"
)

// Deserializer turns a captured Response into a value of type T.
//
// A Deserializer runs only after the transport succeeded and the status code
// was accepted. Returning an error (or panicking) produces a KindDecode failure
// that still carries the Response.
type Deserializer[T any] interface {
	Deserialize(res *Response) (T, error)
}

// DeserializerFunc adapts a plain function into a Deserializer.
type DeserializerFunc[T any] func(res *Response) (T, error)

// Deserialize calls f(res).
func (f DeserializerFunc[T]) Deserialize(res *Response) (T, error) {
	return f(res)
}

// BytesDeserializable is a caller-supplied decoder working on the raw body.
type BytesDeserializable[T any] interface {
	DeserializeBytes(data []byte) (T, error)
}

// StringDeserializable is a caller-supplied decoder working on the body text.
// The text is decoded with the charset declared by the response.
type StringDeserializable[T any] interface {
	DeserializeString(content string) (T, error)
}

// String decodes the body as text using the charset from the Content-Type
// header. UTF-8 is assumed when no charset is declared.
func String() Deserializer[string] {
	return DeserializerFunc[string](decodeText)
}

// Bytes returns the raw body unchanged.
func Bytes() Deserializer[[]byte] {
	return DeserializerFunc[[]byte](func(res *Response) ([]byte, error) {
		return res.Body(), nil
	})
}

// JSON parses the body into a generic Document.
func JSON() Deserializer[*Document] {
	return DeserializerFunc[*Document](func(res *Response) (*Document, error) {
		return ParseDocument(res.body)
	})
}

// JSONOf decodes a JSON body into a value of type T. A body of null that
// leaves a pointer, map, slice or interface T nil is a decode failure
// wrapping ErrNullValue, so a success always carries data.
//
//	type Headers struct {
//	    Headers map[string]string `json:"headers"`
//	}
//	httpclient.ResponseObject(ctx, client.Get("/headers"), httpclient.JSONOf[Headers](), cb)
func JSONOf[T any]() Deserializer[T] {
	return DeserializerFunc[T](func(res *Response) (T, error) {
		var v T
		if err := json.Unmarshal(res.body, &v); err != nil {
			return v, fmt.Errorf("decode json: %w", err)
		}
		if isNil(v) {
			return v, fmt.Errorf("decode json: %w", ErrNullValue)
		}
		return v, nil
	})
}

// isNil reports whether v holds a nil pointer, map, slice, interface,
// channel or func.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}

// XMLOf decodes an XML body into a value of type T.
func XMLOf[T any]() Deserializer[T] {
	return DeserializerFunc[T](func(res *Response) (T, error) {
		var v T
		if err := xml.Unmarshal(res.body, &v); err != nil {
			return v, fmt.Errorf("decode xml: %w", err)
		}
		return v, nil
	})
}

// FromBytes adapts a BytesDeserializable into a Deserializer.
func FromBytes[T any](d BytesDeserializable[T]) Deserializer[T] {
	return DeserializerFunc[T](func(res *Response) (T, error) {
		return d.DeserializeBytes(res.Body())
	})
}

// FromString adapts a StringDeserializable into a Deserializer.
func FromString[T any](d StringDeserializable[T]) Deserializer[T] {
	return DeserializerFunc[T](func(res *Response) (T, error) {
		text, err := decodeText(res)
		if err != nil {
			var zero T
			return zero, err
		}
		return d.DeserializeString(text)
	})
}

// Object adapts a caller-supplied decoder whose capabilities are only known
// at runtime.
//
// The byte entry point wins when the decoder implements both
// BytesDeserializable[T] and StringDeserializable[T]. A decoder that is
// already a Deserializer[T] is used as-is. Any other decoder fails every
// execution with ErrNoDeserializer.
func Object[T any](decoder any) Deserializer[T] {
	switch d := decoder.(type) {
	case BytesDeserializable[T]:
		return FromBytes(d)
	case StringDeserializable[T]:
		return FromString(d)
	case Deserializer[T]:
		return d
	default:
		return DeserializerFunc[T](func(_ *Response) (T, error) {
			var zero T
			return zero, fmt.Errorf("%w: %T", ErrNoDeserializer, decoder)
		})
	}
}

// deserialize runs d and converts a panic into a *PanicError.
func deserialize[T any](d Deserializer[T], res *Response) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value = zero
			err = &PanicError{Source: "deserializer", Value: r}
		}
	}()
	return d.Deserialize(res)
}

func decodeText(res *Response) (string, error) {
	label := responseCharset(res.header.Get("Content-Type"))
	if isUTF8Label(label) {
		return string(res.body), nil
	}

	reader, err := charset.NewReaderLabel(label, bytes.NewReader(res.body))
	if err != nil {
		return "", fmt.Errorf("decode text: %w", err)
	}
	text, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("decode %s text: %w", label, err)
	}
	return string(text), nil
}

// responseCharset returns the charset parameter of a Content-Type value,
// or "utf-8" when there is none.
func responseCharset(contentType string) string {
	if contentType == "" {
		return "utf-8"
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "utf-8"
	}
	if cs := strings.TrimSpace(params["charset"]); cs != "" {
		return cs
	}
	return "utf-8"
}

func isUTF8Label(label string) bool {
	switch strings.ToLower(label) {
	case "utf-8", "utf8", "unicode-1-1-utf-8":
		return true
	default:
		return false
	}
}
