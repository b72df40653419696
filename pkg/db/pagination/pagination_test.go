package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token := EncodeCursor(Cursor{ID: "42", CreatedAt: "2025-01-02T03:04:05Z"})
	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "42", decoded.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)

	c, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestPageTrimsExtraRow(t *testing.T) {
	rows, info := Page([]int{1, 2, 3}, 2, func(v int) Cursor {
		return Cursor{ID: "id", CreatedAt: "ts"}
	})
	assert.Equal(t, []int{1, 2}, rows)
	assert.True(t, info.HasMore)
	assert.NotEmpty(t, info.NextPageToken)

	rows, info = Page([]int{1}, 2, func(int) Cursor { return Cursor{} })
	assert.Len(t, rows, 1)
	assert.False(t, info.HasMore)
}

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	assert.Equal(t, 5, Pagination{PageSize: 5}.Limit())
}
