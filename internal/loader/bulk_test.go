package loader_test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datagen24/cowrieprocessor/internal/loader"
	"github.com/datagen24/cowrieprocessor/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cowrie.db")
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func writeJSONL(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cowrie.json")
	var content string
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestBulkLoaderEndToEnd feeds one session's connect/command/close sequence
// through the bulk loader, one event per flush, and checks the raw_event row
// count, the aggregated session_summary row, and that the session's source
// IP is recorded in ip_inventory.
func TestBulkLoaderEndToEnd(t *testing.T) {
	db := openTestDB(t)

	path := writeJSONL(t,
		`{"eventid":"cowrie.session.connect","timestamp":"2024-01-01T00:00:00.000000Z","session":"sess-1","src_ip":"203.0.113.5"}`,
		`{"eventid":"cowrie.command.input","timestamp":"2024-01-01T00:00:01.000000Z","session":"sess-1","input":"echo hello >> /root/.ssh/authorized_keys"}`,
		`{"eventid":"cowrie.session.closed","timestamp":"2024-01-01T00:00:02.000000Z","session":"sess-1"}`,
	)

	cfg := loader.DefaultConfig()
	cfg.BatchSize = 1 // one event per flush, so the session spans multiple UPSERTs
	bulk := loader.NewBulkLoader(db, cfg)

	metrics, err := bulk.LoadPaths([]string{path}, "ingest-1", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 3, metrics.EventsRead)
	require.Equal(t, 3, metrics.EventsInserted)

	n, err := storage.CountRawEvents(db, path)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	var eventCount, riskScore int
	var srcIP string
	err = db.QueryRow(`SELECT event_count, risk_score, source_ip FROM session_summary WHERE session_id = ?`, "sess-1").
		Scan(&eventCount, &riskScore, &srcIP)
	require.NoError(t, err)
	require.Equal(t, 3, eventCount)
	require.Equal(t, "203.0.113.5", srcIP)
	require.GreaterOrEqual(t, riskScore, 0)

	var ipAddress string
	err = db.QueryRow(`SELECT ip_address FROM ip_inventory WHERE ip_address = ?`, "203.0.113.5").Scan(&ipAddress)
	require.NoError(t, err, "source IP must be recorded in ip_inventory during the flush that saw it")
}

// TestBulkLoaderRejectsDuplicateNaturalKey feeds the same file twice under
// the same ingest, exercising raw_event's natural-key uniqueness
// (source, source_inode, source_generation, source_offset): the second pass
// must not double the row count.
func TestBulkLoaderRejectsDuplicateNaturalKey(t *testing.T) {
	db := openTestDB(t)
	path := writeJSONL(t,
		`{"eventid":"cowrie.session.connect","timestamp":"2024-01-01T00:00:00.000000Z","session":"sess-dup","src_ip":"198.51.100.9"}`,
	)

	bulk := loader.NewBulkLoader(db, loader.DefaultConfig())
	_, err := bulk.LoadPaths([]string{path}, "ingest-a", nil, nil)
	require.NoError(t, err)
	_, err = bulk.LoadPaths([]string{path}, "ingest-b", nil, nil)
	require.NoError(t, err)

	n, err := storage.CountRawEvents(db, path)
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "re-ingesting the same file at the same offsets must not duplicate rows")
}

// TestBulkLoaderMergesSSHKeysAcrossFlushes reproduces the scenario where a
// session's SSH-key-injection commands land in different flush batches: the
// second flush's UPSERT must union with the first flush's keys rather than
// overwrite them, even though ssh_key_injections keeps climbing either way.
func TestBulkLoaderMergesSSHKeysAcrossFlushes(t *testing.T) {
	db := openTestDB(t)
	path := writeJSONL(t,
		`{"eventid":"cowrie.command.input","timestamp":"2024-01-01T00:00:00.000000Z","session":"sess-keys","input":"echo ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABAQ== a@b >> /root/.ssh/authorized_keys"}`,
		`{"eventid":"cowrie.command.input","timestamp":"2024-01-01T00:00:01.000000Z","session":"sess-keys","input":"echo ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABAg== c@d >> /root/.ssh/authorized_keys"}`,
	)

	cfg := loader.DefaultConfig()
	cfg.BatchSize = 1 // force each command into its own flush/UPSERT
	bulk := loader.NewBulkLoader(db, cfg)

	_, err := bulk.LoadPaths([]string{path}, "ingest-keys", nil, nil)
	require.NoError(t, err)

	var injections int
	var rawKeys []byte
	err = db.QueryRow(`SELECT ssh_key_injections, unique_ssh_keys FROM session_summary WHERE session_id = ?`, "sess-keys").
		Scan(&injections, &rawKeys)
	require.NoError(t, err)
	require.Equal(t, 2, injections)
	require.Contains(t, string(rawKeys), "[")
	// both batches' keys must survive: a bare overwrite would leave only the
	// second flush's single-element set.
	require.NotEqual(t, "[]", string(rawKeys))
	require.Greater(t, len(rawKeys), len(`["x"]`))
	var keys []string
	require.NoError(t, json.Unmarshal(rawKeys, &keys))
	require.Len(t, keys, 2)
}

func TestDeltaLoaderCursorMonotonicity(t *testing.T) {
	db := openTestDB(t)
	path := writeJSONL(t,
		`{"eventid":"cowrie.session.connect","timestamp":"2024-01-01T00:00:00.000000Z","session":"sess-cursor","src_ip":"192.0.2.1"}`,
	)

	delta := loader.NewDeltaLoader(db, loader.DefaultConfig())
	_, err := delta.LoadPaths([]string{path}, "ingest-c1", nil, nil)
	require.NoError(t, err)

	// appending a new line and re-running must only pick up the new offset,
	// not reprocess the first line.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(fmt.Sprintf("%s\n", `{"eventid":"cowrie.session.closed","timestamp":"2024-01-01T00:00:05.000000Z","session":"sess-cursor"}`))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	metrics, err := delta.LoadPaths([]string{path}, "ingest-c2", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, metrics.EventsRead, "delta load must only read the newly appended line")

	n, err := storage.CountRawEvents(db, path)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}
