package knowledge

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/loop"
)

// createTestStore creates a file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knowledge.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestCycle builds a cycle record with fixed timestamps so
// detail blobs are byte-stable across runs.
func createTestCycle(n uint64, outcome loop.CycleOutcome) *loop.FeedbackCycle {
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return &loop.FeedbackCycle{
		CycleNumber:      n,
		Token:            fmt.Sprintf("tok-%d", n),
		Trigger:          audit.TriggerScheduled,
		StartedAt:        started,
		CompletedAt:      started.Add(2 * time.Second),
		Duration:         2 * time.Second,
		Outcome:          outcome,
		PatternsDetected: 3,
		SnapshotID:       "abc123",
	}
}

// getTableColumns returns column names for a table via PRAGMA table_info.
func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		t.Fatalf("table_info(%s) failed: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			t.Fatalf("scan table_info row: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
