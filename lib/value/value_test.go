package value

import (
	"errors"
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	values := []Value{
		Bool(true),
		Bool(false),
		Number(0),
		Number(-12.5),
		Number(1e300),
		Number(math.SmallestNonzeroFloat64),
		String(""),
		String("hello world"),
		String("multi\nline \"quoted\""),
	}
	for _, v := range values {
		typ, text, err := Serialize(v)
		require.NoError(t, err)
		assert.Equal(t, v.Type(), typ)

		got, err := Parse(typ, text)
		require.NoError(t, err)
		assert.True(t, v.Equal(got), "expected %s, got %s", v, got)
	}
}

func TestSerializeEncoding(t *testing.T) {
	_, text, _ := Serialize(Bool(true))
	assert.Equal(t, "1", text)
	_, text, _ = Serialize(Bool(false))
	assert.Equal(t, "0", text)
	_, text, _ = Serialize(Number(1.5))
	assert.Equal(t, "1.5", text)
	_, text, _ = Serialize(String("abc"))
	assert.Equal(t, "abc", text)
}

func TestSerializeInvalid(t *testing.T) {
	_, _, err := Serialize(Value{})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestParseLegacyText(t *testing.T) {
	v, err := Parse(TypeNumber, "1.500000")
	require.NoError(t, err)
	n, ok := v.AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 1.5, n)

	v, err = Parse(TypeBool, "7")
	require.NoError(t, err)
	b, _ := v.AsBool()
	assert.True(t, b)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(TypeNumber, "not a number")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, TypeNumber, perr.Type)

	_, err = Parse(TypeBool, "maybe")
	assert.Error(t, err)

	_, err = Parse(Type(6), "{}")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(int64(3))
	require.NoError(t, err)
	assert.True(t, v.Equal(Number(3)))

	v, err = FromAny("x")
	require.NoError(t, err)
	assert.True(t, v.Equal(String("x")))

	v, err = FromAny(true)
	require.NoError(t, err)
	assert.True(t, v.Equal(Bool(true)))

	_, err = FromAny(map[string]any{})
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = FromAny(nil)
	assert.Error(t, err)
	_, err = FromAny(Value{})
	assert.Error(t, err)
}

func TestFormatTruncates(t *testing.T) {
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'a'
	}
	out := String(string(long)).Format()
	assert.Len(t, out, 103)
	assert.Equal(t, "true", Bool(true).Format())
	assert.Equal(t, "[Unknown]", Value{}.Format())
}

func TestFormatTruncatesOnRuneBoundary(t *testing.T) {
	out := String(strings.Repeat("ä", 150)).Format()
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("ä", 100)+"...", out)

	// multi-byte strings below the limit stay untouched
	short := strings.Repeat("ü", 80)
	assert.Equal(t, short, String(short).Format())
}
