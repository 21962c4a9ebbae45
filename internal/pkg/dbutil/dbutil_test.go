package dbutil

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestFinalizeRebindsPlaceholders(t *testing.T) {
	query, args := Finalize("INSERT INTO t (a,b) VALUES (?,?)", []interface{}{1, 2})
	require.Equal(t, "INSERT INTO t (a,b) VALUES ($1,$2)", query)
	require.Equal(t, []interface{}{1, 2}, args)
}

func TestFinalizeRewritesMysqlLimit(t *testing.T) {
	query, args := Finalize("SELECT id FROM t WHERE a=? LIMIT ?,?", []interface{}{"x", 10, 20})
	require.Equal(t, "SELECT id FROM t WHERE a=$1 LIMIT $2 OFFSET $3", query)
	require.Equal(t, []interface{}{"x", 20, 10}, args)
}

func TestIsConflict(t *testing.T) {
	require.True(t, IsConflict(&pq.Error{Code: "23505"}))
	require.True(t, IsConflict(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	require.False(t, IsConflict(&pq.Error{Code: "23503"}))
	require.False(t, IsConflict(fmt.Errorf("boom")))
}
