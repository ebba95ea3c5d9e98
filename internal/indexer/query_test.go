package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "numbers placeholders in order",
			query: "SELECT * FROM orders WHERE owner = ? AND status = ? LIMIT ? OFFSET ?",
			want:  "SELECT * FROM orders WHERE owner = $1 AND status = $2 LIMIT $3 OFFSET $4",
		},
		{
			name:  "skips question marks in literals",
			query: "SELECT '?' AS q, pubkey FROM pools WHERE status = ?",
			want:  "SELECT '?' AS q, pubkey FROM pools WHERE status = $1",
		},
		{
			name:  "handles escaped quotes",
			query: "SELECT 'it''s ?' FROM t WHERE a = ?",
			want:  "SELECT 'it''s ?' FROM t WHERE a = $1",
		},
		{
			name:  "no placeholders",
			query: "SELECT 1",
			want:  "SELECT 1",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, rebind(tc.query))
		})
	}
}

func TestNormalizePagination(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 50, 0},
		{-3, -1, 50, 0},
		{25, 10, 25, 10},
		{500, 0, 200, 0},
		{200, 400, 200, 400},
	}
	for _, tc := range tests {
		limit, offset := normalizePagination(tc.limit, tc.offset)
		assert.Equal(t, tc.wantLimit, limit, "limit for %d", tc.limit)
		assert.Equal(t, tc.wantOffset, offset, "offset for %d", tc.offset)
	}
}

func TestFiltersSkipEmptyValues(t *testing.T) {
	var where filters
	assert.Equal(t, "1 = 1", where.where())

	where.eq("owner", "Owner111")
	where.eq("token_pair", "")
	where.eq("status", "active")
	assert.Equal(t, "owner = ? AND status = ?", where.where())
	assert.Equal(t, []any{"Owner111", "active"}, where.args)
}

func TestConfiguredTifs(t *testing.T) {
	assert.Equal(t, []uint32{300, 900, 3600}, configuredTifs("[300,900,0,3600,0,0,0,0,0,0]"))
	assert.Equal(t, []uint32{}, configuredTifs("[0,0]"))
	assert.Equal(t, []uint32{}, configuredTifs("not json"))
}
