package auditlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/humancheck/internal/circuitbreaker"
	"github.com/mbd888/humancheck/internal/retry"
)

func newStore(t *testing.T, opts ...Option) (*CSVStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storage", "access_log.csv")
	opts = append([]Option{WithRetry(retry.Policy{Attempts: 1})}, opts...)
	return NewCSVStore(path, opts...), path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestEnsureSchema_CreatesFile(t *testing.T) {
	s, path := newStore(t)

	m, err := s.EnsureSchema(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Created)
	assert.Equal(t, strings.Join(Fields, ",")+"\n", readFile(t, path))
}

func TestEnsureSchema_BlankFileIsCreated(t *testing.T) {
	s, path := newStore(t)
	writeFile(t, path, "\n  \n")

	m, err := s.EnsureSchema(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Created)
	assert.Equal(t, strings.Join(Fields, ",")+"\n", readFile(t, path))
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	s, path := newStore(t, WithFields([]string{"timestamp", "username", "decision", "note"}))
	writeFile(t, path, "timestamp,username,decision\n"+
		"2026-01-01T00:00:00Z,alice,ACCEPTED\n"+
		"2026-01-01T00:00:01Z,\"bob, jr\",REJECTED\n")

	m, err := s.EnsureSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"note"}, m.Added)
	first := readFile(t, path)

	for i := 0; i < 3; i++ {
		m, err = s.EnsureSchema(context.Background())
		require.NoError(t, err)
		assert.False(t, m.Changed())
		assert.Equal(t, first, readFile(t, path))
	}
}

func TestEnsureSchema_NoMissingFieldsLeavesBytesAlone(t *testing.T) {
	s, path := newStore(t, WithFields([]string{"a", "b"}))
	// Unusual but valid formatting must survive untouched.
	original := "b,a,legacy\r\n\"2\",1,x\r\n"
	writeFile(t, path, original)

	m, err := s.EnsureSchema(context.Background())
	require.NoError(t, err)
	assert.False(t, m.Changed())
	assert.Equal(t, original, readFile(t, path))
}

func TestEnsureSchema_MigrationPreservesValues(t *testing.T) {
	h1 := []string{"timestamp", "username", "decision", "aiScore"}
	h2 := []string{"timestamp", "attemptId", "username", "decision", "riskScore"}

	var hooked []Migration
	s, path := newStore(t, WithFields(h2), WithMigrationHook(func(m Migration) { hooked = append(hooked, m) }))

	rows := [][]string{
		{"2026-01-01T00:00:00Z", "alice", "ACCEPTED", "0.10"},
		{"2026-01-01T00:00:05Z", "mallory \"the bot\"", "REJECTED", "0.95"},
		{"2026-01-01T00:00:09Z", "multi\nline", "REJECTED", "0.70"},
	}
	var b strings.Builder
	b.WriteString(strings.Join(h1, ",") + "\n")
	for _, r := range rows {
		line, err := encodeRows(h1, Record{"timestamp": r[0], "username": r[1], "decision": r[2], "aiScore": r[3]})
		require.NoError(t, err)
		b.Write(line)
	}
	writeFile(t, path, b.String())

	m, err := s.EnsureSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"attemptId", "riskScore"}, m.Added)
	assert.Equal(t, []string{"aiScore"}, m.Preserved)
	assert.Equal(t, 3, m.Rewritten)
	assert.Equal(t, 0, m.Degraded)
	require.Len(t, hooked, 1)

	assert.True(t, strings.HasPrefix(readFile(t, path), "timestamp,attemptId,username,decision,riskScore,aiScore\n"))

	got, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range rows {
		for j, name := range h1 {
			assert.Equal(t, r[j], got[i][name], "row %d field %s", i, name)
		}
		assert.Equal(t, "", got[i]["attemptId"])
		assert.Equal(t, "", got[i]["riskScore"])
	}
	assert.Len(t, hooked, 1, "a read after migration must not rewrite again")
}

func TestEnsureSchema_CorruptRowsDegrade(t *testing.T) {
	s, path := newStore(t, WithFields([]string{"timestamp", "username", "decision", "riskScore"}))
	writeFile(t, path, "timestamp,username,decision\n"+
		"t1,alice,ACCEPTED\n"+
		"t2,bro\"ken,REJECTED\n"+
		"t3,short\n"+
		"t4,\"unterminated,REJECTED\n"+
		"t5,carol,ACCEPTED\n")

	m, err := s.EnsureSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, m.Rewritten)
	assert.Equal(t, 3, m.Degraded)

	got, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 5)

	assert.Equal(t, "alice", got[0]["username"])
	assert.Equal(t, "bro\"ken", got[1]["username"])
	assert.Equal(t, "REJECTED", got[1]["decision"])
	assert.Equal(t, "short", got[2]["username"])
	assert.Equal(t, "", got[2]["decision"])
	assert.Equal(t, "t4", got[3]["timestamp"])
	assert.Equal(t, "t5", got[4]["timestamp"])
	assert.Equal(t, "carol", got[4]["username"])
	for _, r := range got {
		assert.Equal(t, "", r["riskScore"])
	}
}

func TestAppend_RoundTripsSpecialCharacters(t *testing.T) {
	s, _ := newStore(t)
	tricky := "comma, \"quote\" and\nnewline"

	require.NoError(t, s.Append(context.Background(), Record{
		"attemptId":     "a1",
		"username":      tricky,
		"reasonSummary": "risk signals: a, b | challenge: c",
	}))
	require.NoError(t, s.Append(context.Background(), Record{"attemptId": "a2", "username": "plain"}))
	require.NoError(t, s.Append(context.Background(), Record{
		"attemptId":      "a3",
		"reasonSummary":  "a,\"b\"\r\nc",
		"botDetectFlags": "x\ry",
	}))

	got, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, tricky, got[0]["username"])
	assert.Equal(t, "risk signals: a, b | challenge: c", got[0]["reasonSummary"])
	assert.Equal(t, "plain", got[1]["username"])
	assert.Equal(t, "a,\"b\"\nc", got[2]["reasonSummary"])
	assert.Equal(t, "x\ny", got[2]["botDetectFlags"])
	assert.Len(t, got[0], len(Fields))

	// A stored value survives a second write unchanged.
	again := got[2].Clone()
	again["attemptId"] = "a4"
	require.NoError(t, s.Append(context.Background(), again))
	got, err = s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "a,\"b\"\nc", got[3]["reasonSummary"])
	assert.Equal(t, "x\ny", got[3]["botDetectFlags"])
}

func TestEncodeRows_FoldsCarriageReturns(t *testing.T) {
	line, err := encodeRows([]string{"v"}, Record{"v": "a\r\nb\rc"})
	require.NoError(t, err)
	assert.Equal(t, "\"a\nb\nc\"\n", string(line))
}

func TestAppend_UsesOnDiskColumnOrder(t *testing.T) {
	s, path := newStore(t, WithFields([]string{"a", "b"}))
	writeFile(t, path, "b,a,extra\n")

	require.NoError(t, s.Append(context.Background(), Record{"a": "1", "b": "2", "ignored": "x"}))
	assert.Equal(t, "b,a,extra\n2,1,\n", readFile(t, path))
}

func TestAppend_MissingTrailingNewline(t *testing.T) {
	s, path := newStore(t, WithFields([]string{"a", "b"}))
	writeFile(t, path, "a,b\n1,2")

	require.NoError(t, s.Append(context.Background(), Record{"a": "3", "b": "4"}))
	assert.Equal(t, "a,b\n1,2\n3,4\n", readFile(t, path))

	got, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAppend_ConcurrentWritesDoNotInterleave(t *testing.T) {
	s, _ := newStore(t)
	other := NewCSVStore(s.Path(), WithRetry(retry.Policy{Attempts: 1}))

	const n = 50
	long := strings.Repeat("x", 4096)
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		for _, store := range []*CSVStore{s, other} {
			go func(st *CSVStore, i int) {
				defer wg.Done()
				err := st.Append(context.Background(), Record{
					"attemptId":     fmt.Sprintf("a-%d", i),
					"decision":      "ACCEPTED",
					"reasonSummary": long + ",\n\"" + long,
				})
				assert.NoError(t, err)
			}(store, i)
		}
	}
	wg.Wait()

	got, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2*n)
	for _, r := range got {
		assert.Equal(t, "ACCEPTED", r["decision"])
		assert.Equal(t, long+",\n\""+long, r["reasonSummary"])
	}
	assert.Equal(t, Counts{Accepted: 2 * n}, CountDecisions(got))
}

func TestReadAll_MissingFileCreatesEmptyStore(t *testing.T) {
	s, path := newStore(t)

	got, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.FileExists(t, path)
}

func TestReadAll_SkipsBlankLines(t *testing.T) {
	s, path := newStore(t, WithFields([]string{"a"}))
	writeFile(t, path, "a\n\n1\n   \n2\n")

	got, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0]["a"])
	assert.Equal(t, "2", got[1]["a"])
}

func TestStore_UnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "storage")
	writeFile(t, blocker, "not a directory")

	s := NewCSVStore(filepath.Join(blocker, "access_log.csv"), WithRetry(retry.Policy{Attempts: 2, BaseDelay: time.Millisecond}))
	err := s.Append(context.Background(), Record{"attemptId": "a1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}

func TestStore_BreakerFastFails(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "storage")
	writeFile(t, blocker, "not a directory")

	b := circuitbreaker.New(2, time.Hour)
	s := NewCSVStore(filepath.Join(blocker, "access_log.csv"),
		WithRetry(retry.Policy{Attempts: 1}),
		WithBreaker(b),
	)

	assert.Equal(t, circuitbreaker.StateClosed, s.Circuit())
	for i := 0; i < 2; i++ {
		err := s.Append(context.Background(), Record{"attemptId": "a"})
		require.Error(t, err)
		assert.False(t, errors.Is(err, circuitbreaker.ErrOpen))
	}
	assert.Equal(t, circuitbreaker.StateOpen, s.Circuit())

	err := s.Append(context.Background(), Record{"attemptId": "a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, circuitbreaker.ErrOpen))
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}

func TestStore_CancelledContextWhileLocked(t *testing.T) {
	s, _ := newStore(t)
	unlock, err := fileLocks.LockPath(context.Background(), s.Path())
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = s.Append(ctx, Record{"attemptId": "a1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
