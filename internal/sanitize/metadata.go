package sanitize

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind enumerates the metadata value shapes a vector store accepts.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
	KindStrings
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindStrings:
		return "strings"
	case KindDate:
		return "date"
	default:
		return "invalid"
	}
}

// Value is a single flat metadata value. The zero Value is invalid and is
// never produced by Flatten.
type Value struct {
	kind Kind
	str  string
	num  float64
	flag bool
	strs []string
}

// String returns a string value. Invalid UTF-8 is replaced with U+FFFD.
func String(s string) Value { return Value{kind: KindString, str: validUTF8(s)} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Strings returns a string-array value. The slice is copied and invalid
// UTF-8 is replaced with U+FFFD.
func Strings(ss []string) Value {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = validUTF8(s)
	}
	return Value{kind: KindStrings, strs: out}
}

// validUTF8 keeps payload strings encodable by protobuf-based stores.
func validUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

// Date returns a date value, stored as an ISO-8601 UTC string.
func Date(t time.Time) Value {
	return Value{kind: KindDate, str: t.UTC().Format(time.RFC3339Nano)}
}

// Kind reports the value's shape.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v was produced by a constructor.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsString returns the string for KindString and KindDate values.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString || v.kind == KindDate
}

// AsNumber returns the number for KindNumber values.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the boolean for KindBool values.
func (v Value) AsBool() (bool, bool) { return v.flag, v.kind == KindBool }

// AsStrings returns a copy of the array for KindStrings values.
func (v Value) AsStrings() ([]string, bool) {
	if v.kind != KindStrings {
		return nil, false
	}
	return slices.Clone(v.strs), true
}

// Interface returns the plain Go value: string, float64, bool or []string.
func (v Value) Interface() any {
	switch v.kind {
	case KindString, KindDate:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.flag
	case KindStrings:
		return slices.Clone(v.strs)
	default:
		return nil
	}
}

// Metadata is a flat metadata map. Every value is valid.
type Metadata map[string]Value

// Set stores v under key. Invalid values are ignored.
func (m Metadata) Set(key string, v Value) {
	if key == "" || !v.IsValid() {
		return
	}
	m[validUTF8(key)] = v
}

// Map converts to a plain map of string, float64, bool and []string values.
func (m Metadata) Map() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Interface()
	}
	return out
}

