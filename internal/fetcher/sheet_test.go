package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanveo/kanveo-cli/internal/model"
)

func strs(values ...string) []model.Value {
	out := make([]model.Value, len(values))
	for i, v := range values {
		if v == "" {
			out[i] = model.NullValue()
		} else {
			out[i] = model.StringValue(v)
		}
	}
	return out
}

func TestBuildSheet_Basic(t *testing.T) {
	sheet := BuildSheet([][]model.Value{
		strs("Nom", "Email"),
		strs("Alice", "a@x.com"),
		strs("Bob"),
	})

	assert.Equal(t, []string{"Nom", "Email"}, sheet.Headers)
	require.Len(t, sheet.Rows, 2)
	assert.Equal(t, "a@x.com", sheet.Rows[0]["Email"].String())
	assert.Equal(t, model.KindNull, sheet.Rows[1]["Email"].Kind())
}

func TestBuildSheet_SkipsLeadingAndBlankRows(t *testing.T) {
	sheet := BuildSheet([][]model.Value{
		strs("", ""),
		strs(" Nom ", "Email"),
		strs("", ""),
		strs("Alice", "a@x.com"),
	})

	assert.Equal(t, []string{"Nom", "Email"}, sheet.Headers)
	assert.Len(t, sheet.Rows, 1)
}

func TestBuildSheet_HeaderNames(t *testing.T) {
	sheet := BuildSheet([][]model.Value{
		strs("Email", "", "Email", "Tel", ""),
		strs("a", "b", "c", "d"),
	})

	assert.Equal(t, []string{"Email", "column_2", "Email_2", "Tel"}, sheet.Headers)
	assert.Equal(t, "c", sheet.Rows[0]["Email_2"].String())
}

func TestBuildSheet_Empty(t *testing.T) {
	sheet := BuildSheet(nil)

	assert.Empty(t, sheet.Headers)
	assert.Empty(t, sheet.Rows)
}

func TestBuildSheet_GeneratedNamesNeverCollide(t *testing.T) {
	tests := []struct {
		name   string
		header []model.Value
		want   []string
	}{
		{
			name:   "suffix taken by a real column",
			header: strs("a", "a", "a_2"),
			want:   []string{"a", "a_3", "a_2"},
		},
		{
			name:   "real column named like a blank placeholder",
			header: strs("x", "", "column_2"),
			want:   []string{"x", "column_2_2", "column_2"},
		},
		{
			name:   "repeated suffixed name",
			header: strs("a_2", "a", "a", "a_2"),
			want:   []string{"a_2", "a", "a_3", "a_2_2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := make([]model.Value, len(tt.header))
			for i := range values {
				values[i] = model.StringValue(string(rune('1' + i)))
			}
			sheet := BuildSheet([][]model.Value{tt.header, values})

			assert.Equal(t, tt.want, sheet.Headers)
			require.Len(t, sheet.Rows, 1)
			assert.Len(t, sheet.Rows[0], len(tt.header), "every column keeps its own cell")
			for i, h := range sheet.Headers {
				assert.Equal(t, values[i].String(), sheet.Rows[0][h].String())
			}
		})
	}
}
