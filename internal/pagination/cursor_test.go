package pagination

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		version int64
	}{
		{"plain", "INC0010001", 3},
		{"generated id", "KB-5f0c8a8e-1f7b-4c44-9a51-0a2f4c1d2e3b", 0},
		{"id with separator", "INC|42", 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := DecodeCursor(EncodeCursor(tt.id, tt.version))

			require.NoError(t, err)
			assert.Equal(t, &Cursor{LastID: tt.id, Version: tt.version}, c)
		})
	}
}

func TestEncodeCursor_EmptyID(t *testing.T) {
	assert.Empty(t, EncodeCursor("", 4))
}

func TestDecodeCursor_Empty(t *testing.T) {
	c, err := DecodeCursor("")

	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	for _, cursor := range []string{"%%%", enc("no-separator"), enc("x|INC1"), enc("-1|INC1"), enc("3|")} {
		_, err := DecodeCursor(cursor)
		assert.ErrorIs(t, err, ErrInvalidCursor, "cursor %q", cursor)
	}
}

func TestNextCursor(t *testing.T) {
	items := []string{"INC1", "INC2"}
	id := func(s string) string { return s }

	assert.Empty(t, NextCursor(items, false, 1, id))
	assert.Empty(t, NextCursor([]string{}, true, 1, id))

	c, err := DecodeCursor(NextCursor(items, true, 9, id))
	require.NoError(t, err)
	assert.Equal(t, "INC2", c.LastID)
	assert.Equal(t, int64(9), c.Version)
}
