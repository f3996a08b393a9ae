package auditlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mbd888/humancheck/internal/circuitbreaker"
	"github.com/mbd888/humancheck/internal/retry"
	"github.com/mbd888/humancheck/internal/syncutil"
	"github.com/mbd888/humancheck/internal/traces"
)

// fileLocks serializes every CSVStore touching the same path in this process.
var fileLocks = syncutil.NewKeyedMutex()

// CSVStore is a Store backed by a single CSV file.
type CSVStore struct {
	path      string
	fields    []string
	policy    retry.Policy
	breaker   *circuitbreaker.Breaker
	logger    *slog.Logger
	onMigrate func(Migration)
}

// Option configures a CSVStore.
type Option func(*CSVStore)

// WithFields overrides the current field set.
func WithFields(fields []string) Option {
	return func(s *CSVStore) { s.fields = append([]string(nil), fields...) }
}

// WithRetry sets the retry policy for file I/O.
func WithRetry(p retry.Policy) Option {
	return func(s *CSVStore) { s.policy = p }
}

// WithBreaker fast-fails store calls while the breaker is open for the path.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(s *CSVStore) { s.breaker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *CSVStore) { s.logger = l }
}

// WithMigrationHook is called after every schema write.
func WithMigrationHook(fn func(Migration)) Option {
	return func(s *CSVStore) { s.onMigrate = fn }
}

// NewCSVStore creates a store at path. The file is created lazily.
func NewCSVStore(path string, opts ...Option) *CSVStore {
	s := &CSVStore{
		path:   path,
		fields: append([]string(nil), Fields...),
		policy: retry.DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the file path.
func (s *CSVStore) Path() string { return s.path }

// Circuit reports the breaker state guarding this store. Stores without a
// breaker are always closed.
func (s *CSVStore) Circuit() circuitbreaker.State {
	if s.breaker == nil {
		return circuitbreaker.StateClosed
	}
	return s.breaker.State(s.breakerKey())
}

func (s *CSVStore) breakerKey() string {
	return "audit:" + syncutil.PathKey(s.path)
}

// EnsureSchema creates the file with the current header, or rewrites it when
// its header lacks any current field. Rewrites go through a temp file and a
// rename, so a failure leaves the previous file intact.
func (s *CSVStore) EnsureSchema(ctx context.Context) (Migration, error) {
	var m Migration
	err := s.run(ctx, func() error {
		unlock, err := fileLocks.LockPath(ctx, s.path)
		if err != nil {
			return retry.Permanent(err)
		}
		defer unlock()

		m, _, err = s.ensureLocked()
		return err
	})
	if err != nil {
		return Migration{}, err
	}
	s.migrated(m)
	return m, nil
}

// Append writes one record in the on-disk column order as a single
// O_APPEND write.
func (s *CSVStore) Append(ctx context.Context, rec Record) error {
	ctx, span := traces.StartSpan(ctx, "audit.append", traces.StorePath(s.path), traces.AttemptID(rec["attemptId"]))
	defer span.End()

	var m Migration
	err := s.run(ctx, func() error {
		unlock, err := fileLocks.LockPath(ctx, s.path)
		if err != nil {
			return retry.Permanent(err)
		}
		defer unlock()

		var header []string
		m, header, err = s.ensureLocked()
		if err != nil {
			return err
		}
		return s.appendLocked(header, rec)
	})
	traces.Fail(span, err)
	if err != nil {
		return err
	}
	s.migrated(m)
	return nil
}

// ReadAll returns every row, oldest first, keyed by the on-disk header.
func (s *CSVStore) ReadAll(ctx context.Context) ([]Record, error) {
	var records []Record
	var m Migration
	err := s.run(ctx, func() error {
		unlock, err := fileLocks.LockPath(ctx, s.path)
		if err != nil {
			return retry.Permanent(err)
		}
		defer unlock()

		m, _, err = s.ensureLocked()
		if err != nil {
			return err
		}
		content, err := os.ReadFile(s.path)
		if err != nil {
			return err
		}
		records = s.decode(string(content))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.migrated(m)
	return records, nil
}

func (s *CSVStore) decode(content string) []Record {
	p := parseStore(content)
	records := make([]Record, 0, len(p.rows))
	degraded := 0
	for _, r := range p.rows {
		rec, bad := toRecord(p.header, r)
		if bad {
			degraded++
		}
		records = append(records, rec)
	}
	if degraded > 0 {
		s.logger.Debug("audit rows parsed leniently", "path", s.path, "rows", degraded)
	}
	return records
}

// run applies the breaker and retry policy to one store operation.
func (s *CSVStore) run(ctx context.Context, fn func() error) error {
	op := func() error { return s.policy.Do(ctx, fn) }

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(s.breakerKey(), op)
	} else {
		err = op()
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, s.path, err)
	}
	return nil
}

func (s *CSVStore) migrated(m Migration) {
	if !m.Changed() {
		return
	}
	s.logger.Info("audit store schema updated",
		"path", s.path,
		"created", m.Created,
		"added", m.Added,
		"preserved", m.Preserved,
		"rewritten", m.Rewritten,
		"degraded", m.Degraded,
	)
	if s.onMigrate != nil {
		s.onMigrate(m)
	}
}

// ensureLocked must be called with the path lock held. It returns the
// header now on disk.
func (s *CSVStore) ensureLocked() (Migration, []string, error) {
	header, err := readHeader(s.path)
	if err != nil {
		return Migration{}, nil, err
	}
	if len(header) == 0 {
		head, err := encodeHeader(s.fields)
		if err != nil {
			return Migration{}, nil, retry.Permanent(err)
		}
		if err := s.replace(head); err != nil {
			return Migration{}, nil, err
		}
		return Migration{Created: true}, s.fields, nil
	}

	added, preserved := diffFields(s.fields, header)
	if len(added) == 0 {
		return Migration{}, header, nil
	}
	return s.rewriteLocked(added, preserved)
}

// rewriteLocked re-parses every row under its original header and writes
// the store back under the current fields followed by the preserved ones.
func (s *CSVStore) rewriteLocked(added, preserved []string) (Migration, []string, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return Migration{}, nil, err
	}
	p := parseStore(string(content))

	m := Migration{Added: added, Preserved: preserved}
	header := append(append([]string(nil), s.fields...), preserved...)
	records := make([]Record, 0, len(p.rows))
	for _, r := range p.rows {
		rec, bad := toRecord(p.header, r)
		if bad {
			m.Degraded++
		}
		records = append(records, rec)
	}
	m.Rewritten = len(records)

	head, err := encodeHeader(header)
	if err != nil {
		return Migration{}, nil, retry.Permanent(err)
	}
	body, err := encodeRows(header, records...)
	if err != nil {
		return Migration{}, nil, retry.Permanent(err)
	}
	if err := s.replace(append(head, body...)); err != nil {
		return Migration{}, nil, err
	}
	return m, header, nil
}

// appendLocked must be called with the path lock held and the schema ensured.
func (s *CSVStore) appendLocked(header []string, rec Record) error {
	line, err := encodeRows(header, rec)
	if err != nil {
		return retry.Permanent(err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	terminated, err := endsWithNewline(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	if !terminated {
		line = append([]byte("\n"), line...)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// readHeader returns the first non-blank line of the file parsed as a
// header, or nil when the file is missing or blank.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if header := headerOnly(line); len(header) > 0 {
			return header, nil
		}
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func endsWithNewline(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return true, nil
	}
	var last [1]byte
	if _, err := f.ReadAt(last[:], info.Size()-1); err != nil {
		return false, err
	}
	return last[0] == '\n', nil
}

// replace atomically swaps the file contents.
func (s *CSVStore) replace(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// diffFields returns the wanted fields missing from have, and the fields of
// have that are not wanted, each in their own order.
func diffFields(want, have []string) (added, preserved []string) {
	haveSet := make(map[string]bool, len(have))
	for _, f := range have {
		haveSet[f] = true
	}
	wantSet := make(map[string]bool, len(want))
	for _, f := range want {
		wantSet[f] = true
		if !haveSet[f] {
			added = append(added, f)
		}
	}
	for _, f := range have {
		if !wantSet[f] && f != "" {
			preserved = append(preserved, f)
		}
	}
	return added, preserved
}
