package jsonvalue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripPrimitives(t *testing.T) {
	cases := []Value{
		Null(),
		Bool(true),
		Bool(false),
		Int(42),
		Int(-7),
		Float(3.5),
		String("hello"),
	}
	for _, v := range cases {
		data, err := v.MarshalJSON()
		require.NoError(t, err)

		parsed, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, v.Kind(), parsed.Kind())
	}
}

func TestObjectKeysSortedDeterministically(t *testing.T) {
	obj := Object(map[string]Value{
		"zebra": Int(1),
		"alpha": Int(2),
		"mid":   Int(3),
	})

	data, err := obj.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zebra":1}`, string(data))
}

func TestArrayRoundTrip(t *testing.T) {
	arr := Array(Int(1), String("two"), Bool(true), Null())
	data, err := arr.MarshalJSON()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	elems, ok := parsed.AsArray()
	require.True(t, ok)
	require.Len(t, elems, 4)

	i, ok := elems[0].AsInt()
	assert.True(t, ok)
	assert.EqualValues(t, 1, i)
}

func TestNestedObjectGet(t *testing.T) {
	nested := Object(map[string]Value{
		"session_id": Int(7),
		"command":    String("sleep 60"),
	})

	cmd, ok := nested.Get("command").AsString()
	assert.True(t, ok)
	assert.Equal(t, "sleep 60", cmd)

	assert.True(t, nested.Get("missing").IsNull())
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"unterminated": `))
	assert.Error(t, err)
}
