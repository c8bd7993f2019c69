package statusid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"99", "100", -1},
		{"100", "99", 1},
		{"109", "110", -1},
		{"110", "110", 0},
		{"9", "1000000000000000000000", -1},
		{"113456789012345678", "113456789012345677", 1},
		{"", "1", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestCompareEqualLengthMatchesLexicographic(t *testing.T) {
	ids := []string{"000", "001", "010", "099", "100", "555", "909", "999"}
	for _, a := range ids {
		for _, b := range ids {
			var lex int
			switch {
			case a < b:
				lex = -1
			case a > b:
				lex = 1
			}
			assert.Equal(t, lex, Compare(a, b), "%s vs %s", a, b)
		}
	}
}

func TestCompareLongerAlwaysGreater(t *testing.T) {
	assert.True(t, Less("99999", "100000"))
	assert.True(t, Less("9", "10"))
	assert.False(t, Less("10", "9"))
}

func TestMaxMin(t *testing.T) {
	ids := []string{"105", "99", "1000", "", "100"}
	assert.Equal(t, "1000", Max(ids...))
	assert.Equal(t, "99", Min(ids...))
	assert.Equal(t, "", Max())
	assert.Equal(t, "", Min("", ""))
}

func TestCursorExtend(t *testing.T) {
	t.Run("empty cursor takes batch extremes", func(t *testing.T) {
		c := Cursor{}.Extend("120", "99", "130")
		assert.Equal(t, Cursor{Newest: "130", Oldest: "99"}, c)
		assert.True(t, c.Valid())
	})

	t.Run("older batch moves only oldest", func(t *testing.T) {
		c := Cursor{Newest: "500", Oldest: "400"}.Extend("350", "399")
		assert.Equal(t, Cursor{Newest: "500", Oldest: "350"}, c)
	})

	t.Run("newer batch moves only newest", func(t *testing.T) {
		c := Cursor{Newest: "500", Oldest: "400"}.Extend("1001", "501")
		assert.Equal(t, Cursor{Newest: "1001", Oldest: "400"}, c)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		c := Cursor{Newest: "500", Oldest: "400"}
		assert.Equal(t, c, c.Extend())
	})
}

func TestCursorValid(t *testing.T) {
	assert.True(t, Cursor{}.Valid())
	assert.True(t, Cursor{Newest: "100", Oldest: "99"}.Valid())
	assert.False(t, Cursor{Newest: "99", Oldest: "100"}.Valid())
	assert.False(t, Cursor{Newest: "99"}.Valid())
}
