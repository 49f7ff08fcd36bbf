package sanitize

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Flatten converts arbitrary metadata into Metadata. It never fails:
//
//   - nil values (including typed nil pointers, maps and slices) are dropped
//   - time.Time becomes a Date (ISO-8601, UTC)
//   - strings, booleans and numbers pass through; invalid UTF-8 in keys,
//     strings and byte slices is replaced with U+FFFD
//   - slices and arrays become string arrays; scalar elements are formatted,
//     other elements are JSON-encoded, nil elements are dropped
//   - maps and structs are JSON-encoded into a string
//   - anything JSON cannot encode falls back to its fmt representation
//
// NaN and infinite numbers are stored as strings since no store accepts them.
func Flatten(raw map[string]any) Metadata {
	out := make(Metadata, len(raw))
	for k, v := range raw {
		if k == "" {
			continue
		}
		if val, ok := flattenValue(v); ok {
			out.Set(k, val)
		}
	}
	return out
}

var timeType = reflect.TypeOf(time.Time{})

func flattenValue(v any) (out Value, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			out, ok = String(fmt.Sprint(v)), true
		}
	}()

	rv, ok := deref(reflect.ValueOf(v))
	if !ok {
		return Value{}, false
	}
	if s, isScalar := scalar(rv); isScalar {
		return s, true
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return String(string(rv.Bytes())), true
		}
		items := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if s, ok := elementString(rv.Index(i)); ok {
				items = append(items, s)
			}
		}
		return Strings(items), true
	default:
		return String(encode(rv.Interface())), true
	}
}

// deref follows pointers and interfaces; ok is false for nil.
func deref(rv reflect.Value) (reflect.Value, bool) {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return reflect.Value{}, false
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return reflect.Value{}, false
		}
	}
	return rv, true
}

// scalar converts primitive kinds, time.Time and text marshalers.
func scalar(rv reflect.Value) (Value, bool) {
	if rv.Type() == timeType {
		return Date(rv.Interface().(time.Time)), true
	}
	if rv.CanInterface() {
		if n, isNum := rv.Interface().(json.Number); isNum {
			if f, err := n.Float64(); err == nil {
				return number(f), true
			}
			return String(n.String()), true
		}
		if tm, isText := rv.Interface().(encoding.TextMarshaler); isText {
			if text, err := tm.MarshalText(); err == nil {
				return String(string(text)), true
			}
		}
	}

	switch rv.Kind() {
	case reflect.String:
		return String(rv.String()), true
	case reflect.Bool:
		return Bool(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int())), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(float64(rv.Uint())), true
	case reflect.Float32, reflect.Float64:
		return number(rv.Float()), true
	case reflect.Complex64, reflect.Complex128, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return String(fmt.Sprint(rv.Interface())), true
	}
	return Value{}, false
}

func number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return String(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return Number(f)
}

// elementString renders one array element. Nil elements are dropped.
func elementString(rv reflect.Value) (string, bool) {
	rv, ok := deref(rv)
	if !ok {
		return "", false
	}
	if v, isScalar := scalar(rv); isScalar {
		switch v.Kind() {
		case KindNumber:
			return strconv.FormatFloat(v.num, 'f', -1, 64), true
		case KindBool:
			return strconv.FormatBool(v.flag), true
		default:
			return v.str, true
		}
	}
	return validUTF8(encode(rv.Interface())), true
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
