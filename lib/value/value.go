package value

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Type Codes
// --------------------------------------------------------------------------

// Type is the persisted type code of a Value.
type Type int

const (
	TypeInvalid Type = 0 // zero value, never persisted
	TypeBool    Type = 2 // boolean
	TypeNumber  Type = 4 // 64-bit float
	TypeString  Type = 5 // text
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "Boolean"
	case TypeNumber:
		return "Number"
	case TypeString:
		return "String"
	default:
		return "Unknown"
	}
}

// Valid reports whether t is one of the known type codes.
func (t Type) Valid() bool {
	return t == TypeBool || t == TypeNumber || t == TypeString
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// ErrUnknownType is returned when a value carries no (or an unknown) type tag.
var ErrUnknownType = errors.New("cannot serialize value of unknown type")

// ParseError reports a persisted payload that cannot be decoded for its declared type.
type ParseError struct {
	Type Type
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q as %s (type %d): %v", truncate(e.Text, 32), e.Type, int(e.Type), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// --------------------------------------------------------------------------
// Value
// --------------------------------------------------------------------------

// Value is a tagged union of bool, float64 and string.
// The zero Value is invalid and is rejected by Serialize.
type Value struct {
	t Type
	b bool
	n float64
	s string
}

// Bool creates a boolean Value.
func Bool(b bool) Value { return Value{t: TypeBool, b: b} }

// Number creates a numeric Value.
func Number(n float64) Value { return Value{t: TypeNumber, n: n} }

// String creates a string Value.
func String(s string) Value { return Value{t: TypeString, s: s} }

// Type returns the type tag of v.
func (v Value) Type() Type { return v.t }

// IsValid reports whether v was created by one of the constructors.
func (v Value) IsValid() bool { return v.t.Valid() }

// AsBool returns the boolean payload. ok is false if v is not a Bool.
func (v Value) AsBool() (b bool, ok bool) { return v.b, v.t == TypeBool }

// AsNumber returns the numeric payload. ok is false if v is not a Number.
func (v Value) AsNumber() (n float64, ok bool) { return v.n, v.t == TypeNumber }

// AsString returns the string payload. ok is false if v is not a String.
func (v Value) AsString() (s string, ok bool) { return v.s, v.t == TypeString }

// Equal reports whether v and o have the same tag and payload.
// NaN numbers compare equal to each other.
func (v Value) Equal(o Value) bool {
	if v.t != o.t {
		return false
	}
	switch v.t {
	case TypeBool:
		return v.b == o.b
	case TypeNumber:
		return v.n == o.n || (math.IsNaN(v.n) && math.IsNaN(o.n))
	case TypeString:
		return v.s == o.s
	default:
		return true
	}
}

// Any returns the payload as a dynamically typed value (bool, float64 or string).
// An invalid Value returns nil.
func (v Value) Any() any {
	switch v.t {
	case TypeBool:
		return v.b
	case TypeNumber:
		return v.n
	case TypeString:
		return v.s
	default:
		return nil
	}
}

// Format renders v for human-readable output. Strings are truncated.
func (v Value) Format() string {
	switch v.t {
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case TypeString:
		return truncate(v.s, 100)
	default:
		return "[Unknown]"
	}
}

func (v Value) String() string {
	return fmt.Sprintf("%s(%s)", v.t, v.Format())
}

// --------------------------------------------------------------------------
// Serialization
// --------------------------------------------------------------------------

// Serialize converts v into its persisted form.
func Serialize(v Value) (Type, string, error) {
	switch v.t {
	case TypeBool:
		if v.b {
			return TypeBool, "1", nil
		}
		return TypeBool, "0", nil
	case TypeNumber:
		return TypeNumber, strconv.FormatFloat(v.n, 'g', -1, 64), nil
	case TypeString:
		return TypeString, v.s, nil
	default:
		return TypeInvalid, "", ErrUnknownType
	}
}

// Parse is the inverse of Serialize. A malformed payload or an unknown type
// code returns a *ParseError.
func Parse(t Type, text string) (Value, error) {
	switch t {
	case TypeBool:
		switch strings.TrimSpace(text) {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		i, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, &ParseError{Type: t, Text: text, Err: err}
		}
		return Bool(i != 0), nil
	case TypeNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, &ParseError{Type: t, Text: text, Err: err}
		}
		return Number(f), nil
	case TypeString:
		return String(text), nil
	default:
		return Value{}, &ParseError{Type: t, Text: text, Err: ErrUnknownType}
	}
}

// FromAny converts a dynamically typed value into a Value.
// Only booleans, numbers and strings are accepted.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		if !t.IsValid() {
			return Value{}, ErrUnknownType
		}
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T: %w", x, ErrUnknownType)
	}
}

// ParseType maps a user supplied type name to a Type.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(name) {
	case "bool", "boolean":
		return TypeBool, nil
	case "number", "num", "float":
		return TypeNumber, nil
	case "string", "str":
		return TypeString, nil
	default:
		return TypeInvalid, fmt.Errorf("invalid type %q (expected bool, number or string)", name)
	}
}

// truncate cuts s after max runes.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

// Entry is a key together with its Value.
type Entry struct {
	Key   string
	Value Value
}
