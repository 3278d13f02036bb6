package storage

import (
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// newMockDB wraps a sqlmock connection as a *DB for unit tests that need to
// assert exact SQL and arguments without a live engine.
func newMockDB(t *testing.T, dialect Dialect) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return &DB{DB: sqlDB, Dialect: dialect}, mock
}

func TestMergeUniqueSSHKeysUnionsWithExisting(t *testing.T) {
	db, mock := newMockDB(t, DialectSQLite)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT unique_ssh_keys FROM session_summary WHERE session_id = ?`)).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"unique_ssh_keys"}).AddRow([]byte(`["aa:bb","cc:dd"]`)))

	encoded, err := mergeUniqueSSHKeys(db, DialectSQLite, "sess-1", []string{"cc:dd", "ee:ff"})
	if err != nil {
		t.Fatalf("mergeUniqueSSHKeys: %v", err)
	}
	if got, want := string(encoded), `["aa:bb","cc:dd","ee:ff"]`; got != want {
		t.Fatalf("merged keys = %s, want %s", got, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMergeUniqueSSHKeysNoExistingRow(t *testing.T) {
	db, mock := newMockDB(t, DialectSQLite)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT unique_ssh_keys FROM session_summary WHERE session_id = ?`)).
		WithArgs("sess-new").
		WillReturnError(sql.ErrNoRows)

	encoded, err := mergeUniqueSSHKeys(db, DialectSQLite, "sess-new", []string{"aa:bb"})
	if err != nil {
		t.Fatalf("mergeUniqueSSHKeys: %v", err)
	}
	if got, want := string(encoded), `["aa:bb"]`; got != want {
		t.Fatalf("merged keys = %s, want %s", got, want)
	}
}

func TestMergeUniqueSSHKeysRebindsForPostgres(t *testing.T) {
	db, mock := newMockDB(t, DialectPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT unique_ssh_keys FROM session_summary WHERE session_id = $1`)).
		WithArgs("sess-pg").
		WillReturnRows(sqlmock.NewRows([]string{"unique_ssh_keys"}).AddRow([]byte(`[]`)))

	if _, err := mergeUniqueSSHKeys(db, DialectPostgres, "sess-pg", []string{"aa:bb"}); err != nil {
		t.Fatalf("mergeUniqueSSHKeys: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateSessionFlagsOrsRatherThanOverwrites(t *testing.T) {
	db, mock := newMockDB(t, DialectSQLite)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE session_summary SET
			vt_flagged = vt_flagged OR ?, dshield_flagged = dshield_flagged OR ?
		WHERE session_id = ?`)).
		WithArgs(true, false, "sess-flags").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := UpdateSessionFlags(db, "sess-flags", true, false); err != nil {
		t.Fatalf("UpdateSessionFlags: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
