// Package types contains the remote records returned by the work-tracking and code-review API.
// Every record is open: fields the struct does not declare are kept in Extra and written
// back unchanged on re-encoding.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	errMissing   = errors.New("required field is missing")
	errNotObject = errors.New("expected a JSON object")
	errNotList   = errors.New(`expected a JSON array or an object with a "value" array`)
)

// ValidationError reports a response that does not match the expected record shape.
type ValidationError struct {
	Err   error
	Kind  string
	Field string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: field %q: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("invalid %s: %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Extra holds undeclared fields, verbatim.
type Extra map[string]json.RawMessage

// Decode validates data as a single T.
func Decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, asValidationError(kindOf[T](), "", err)
	}
	return v, nil
}

// DecodeList validates data as a list of T. Both {"value":[...]} and a bare array are accepted.
func DecodeList[T any](data []byte) ([]T, error) {
	return decodeList[T](data, false)
}

// DecodeSparseList is DecodeList for endpoints that answer unresolvable entries with
// null: those elements are dropped instead of failing the whole list.
func DecodeSparseList[T any](data []byte) ([]T, error) {
	return decodeList[T](data, true)
}

func decodeList[T any](data []byte, skipNull bool) ([]T, error) {
	items, err := NormalizeList(data)
	if err != nil {
		return nil, asValidationError(kindOf[T](), "", err)
	}
	out := make([]T, 0, len(items))
	for i, raw := range items {
		if skipNull && bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, asValidationError(kindOf[T](), fmt.Sprintf("[%d]", i), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// NormalizeList unwraps {"value":[...]} or a bare array into its elements.
func NormalizeList(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errNotList
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		var wrapper struct {
			Value *[]json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, err
		}
		if wrapper.Value == nil {
			return nil, errNotList
		}
		return *wrapper.Value, nil
	default:
		return nil, errNotList
	}
}

func asValidationError(kind, field string, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		if field != "" {
			return &ValidationError{Kind: kind, Field: joinField(field, verr.Field), Err: verr.Err}
		}
		return verr
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ValidationError{Kind: kind, Field: joinField(field, typeErr.Field), Err: fmt.Errorf("expected %s, got %s", typeErr.Type, typeErr.Value)}
	}
	return &ValidationError{Kind: kind, Field: field, Err: err}
}

func joinField(outer, inner string) string {
	switch {
	case outer == "":
		return inner
	case inner == "":
		return outer
	default:
		return outer + "." + inner
	}
}

func kindOf[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// decodeOpen checks required keys, decodes the declared fields into dst (a pointer to
// a method-free alias struct), and returns the undeclared fields.
func decodeOpen(data []byte, kind string, dst any, required ...string) (Extra, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil, &ValidationError{Kind: kind, Err: errNotObject}
	}
	for _, key := range required {
		v, ok := raw[key]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, &ValidationError{Kind: kind, Field: key, Err: errMissing}
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return nil, asValidationError(kind, "", err)
	}

	known := jsonFieldNames(reflect.TypeOf(dst).Elem())
	var extra Extra
	for k, v := range raw {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = make(Extra)
		}
		extra[k] = v
	}
	return extra, nil
}

// encodeOpen marshals the declared fields and merges the preserved extras back in.
func encodeOpen(declared any, extra Extra) ([]byte, error) {
	b, err := json.Marshal(declared)
	if err != nil || len(extra) == 0 {
		return b, err
	}
	merged := make(map[string]json.RawMessage, len(extra)+8)
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

var fieldNameCache sync.Map // reflect.Type -> map[string]bool

func jsonFieldNames(t reflect.Type) map[string]bool {
	if cached, ok := fieldNameCache.Load(t); ok {
		return cached.(map[string]bool) //nolint:errcheck // only map[string]bool is stored
	}
	names := make(map[string]bool, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		names[name] = true
	}
	fieldNameCache.Store(t, names)
	return names
}
