package session

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteArchiver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := NewSQLiteArchiver(path)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	sess := New("s1", time.Now())
	sess.SetCandidate("billing")
	sess.State = StateSent
	sess.TurnCount = 4

	require.NoError(t, a.Archive(ctx, sess))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var state, dept string
	var turns int
	row := db.QueryRow(`SELECT state, department_id, turn_count FROM session_archive WHERE id = ?`, "s1")
	require.NoError(t, row.Scan(&state, &dept, &turns))
	assert.Equal(t, "SENT", state)
	assert.Equal(t, "billing", dept)
	assert.Equal(t, 4, turns)
}

func TestSQLiteArchiverAllowsRepeatedIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := NewSQLiteArchiver(path)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()

	first := New("s1", time.Now())
	first.State = StateAbandoned
	require.NoError(t, a.Archive(ctx, first))

	second := New("s1", time.Now())
	second.State = StateSent
	require.NoError(t, a.Archive(ctx, second))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM session_archive WHERE id = ?`, "s1").Scan(&count))
	assert.Equal(t, 2, count)
}
