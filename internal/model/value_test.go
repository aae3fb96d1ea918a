package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"string", StringValue(" Acme "), " Acme "},
		{"integer", NumberValue(75001), "75001"},
		{"float", NumberValue(12.5), "12.5"},
		{"null", NullValue(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.v.String())
		})
	}
}

func TestValue_IsEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, NullValue().IsEmpty())
	assert.True(t, StringValue("   ").IsEmpty())
	assert.False(t, StringValue("x").IsEmpty())
	assert.False(t, NumberValue(0).IsEmpty())
}

func TestValue_JSON(t *testing.T) {
	t.Parallel()

	row := RawRow{
		"Nom":  StringValue("Dupont"),
		"Code": NumberValue(44),
		"Vide": NullValue(),
	}
	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Nom":"Dupont","Code":44,"Vide":null}`, string(data))

	var back RawRow
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, KindString, back["Nom"].Kind())
	n, ok := back["Code"].Number()
	assert.True(t, ok)
	assert.InDelta(t, 44, n, 0.0001)
	assert.Equal(t, KindNull, back["Vide"].Kind())
}

func TestValue_UnmarshalRejectsObjects(t *testing.T) {
	t.Parallel()

	var v Value
	err := json.Unmarshal([]byte(`{"a":1}`), &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported cell value")
}
