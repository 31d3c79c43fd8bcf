package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Row status values.
const (
	statusReady int64 = 0
	statusUnack int64 = 1
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	priority    INTEGER NOT NULL,
	status      INTEGER NOT NULL DEFAULT 0,
	not_before  INTEGER NOT NULL DEFAULT 0,
	payload     BLOB    NOT NULL,
	compressed  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_ready ON messages (status, priority DESC, id);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// StoreConfig holds the parameters for opening a Store.
type StoreConfig struct {
	// Path is the database file. Its parent directory is created.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 2.
	PoolSize int

	Logger *log.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is the durable backing of the queue. Every process on the host
// opens the same database file; SQLite serializes the writers.
type Store struct {
	pool   *sqlitex.Pool
	codec  *codec
	logger *log.Logger
	now    func() time.Time
	path   string
	closed atomic.Bool
}

// OpenStore opens (creating if needed) the queue database at cfg.Path.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("queue store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("queue store: create directory: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("queue store: open %s: %w", cfg.Path, err)
	}

	c, err := newCodec()
	if err != nil {
		_ = pool.Close()
		return nil, err
	}

	s := &Store{pool: pool, codec: c, logger: logger, now: now, path: cfg.Path}
	if err := s.migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}

	logger.Debug("queue store opened", "path", cfg.Path, "pool_size", poolSize)
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("queue store: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	conn, err := s.take(context.Background())
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("queue store: create schema: %w", err)
	}
	return nil
}

func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue store: take connection: %w", err)
	}
	return conn, nil
}

// Put persists m as a ready row.
func (s *Store) Put(ctx context.Context, m *Message) error {
	now := s.now()
	m.normalize(now)

	payload, compressed, err := s.codec.marshal(m)
	if err != nil {
		return err
	}

	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO messages (priority, status, payload, compressed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{int64(m.Priority), statusReady, payload, boolInt(compressed), now.UnixNano(), now.UnixNano()},
		})
	if err != nil {
		return fmt.Errorf("queue store: insert %s: %w", m.ID, err)
	}
	return nil
}

// Claim marks the highest priority ready row as unacked and returns its
// envelope. It returns nil, nil when no row is ready. A row whose payload
// cannot be decoded is deleted and reported as ErrCorruptPayload.
func (s *Store) Claim(ctx context.Context) (*Message, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	m, corrupt, err := s.claim(conn)
	if err != nil {
		return nil, fmt.Errorf("queue store: claim: %w", err)
	}
	if corrupt != nil {
		return nil, corrupt
	}
	return m, nil
}

func (s *Store) claim(conn *sqlite.Conn) (m *Message, corrupt error, err error) {
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, nil, err
	}
	defer endFn(&err)

	now := s.now().UnixNano()

	var (
		rowID      int64
		payload    []byte
		compressed bool
	)
	err = sqlitex.Execute(conn,
		`SELECT id, payload, compressed FROM messages
		 WHERE status = ? AND not_before <= ?
		 ORDER BY priority DESC, id ASC
		 LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{statusReady, now},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rowID = stmt.ColumnInt64(0)
				payload = make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, payload)
				compressed = stmt.ColumnInt64(2) != 0
				return nil
			},
		})
	if err != nil || rowID == 0 {
		return nil, nil, err
	}

	m, decodeErr := s.codec.unmarshal(payload, compressed)
	if decodeErr != nil {
		err = sqlitex.Execute(conn, `DELETE FROM messages WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{rowID}})
		return nil, fmt.Errorf("row %d: %w", rowID, decodeErr), err
	}

	err = sqlitex.Execute(conn,
		`UPDATE messages SET status = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{statusUnack, now, rowID}})
	if err != nil {
		return nil, nil, err
	}

	m.rowID = rowID
	return m, nil, nil
}

// Ack deletes the row m was claimed from.
func (s *Store) Ack(ctx context.Context, m *Message) error {
	if m == nil || m.rowID == 0 {
		return ErrNotDequeued
	}

	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM messages WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{m.rowID}})
	if err != nil {
		return fmt.Errorf("queue store: ack %s: %w", m.ID, err)
	}
	m.rowID = 0
	return nil
}

// Nack writes m back to its row and marks it ready again, not to be
// claimed before notBefore. The row keeps its id, so among envelopes of
// equal priority it stays ahead of later inserts. Nacking a row that was
// cleared in the meantime is a no-op.
func (s *Store) Nack(ctx context.Context, m *Message, notBefore time.Time) error {
	if m == nil || m.rowID == 0 {
		return ErrNotDequeued
	}

	payload, compressed, err := s.codec.marshal(m)
	if err != nil {
		return err
	}

	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	var nb int64
	if !notBefore.IsZero() {
		nb = notBefore.UnixNano()
	}
	err = sqlitex.Execute(conn,
		`UPDATE messages
		 SET payload = ?, compressed = ?, status = ?, not_before = ?, updated_at = ?
		 WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{payload, boolInt(compressed), statusReady, nb, s.now().UnixNano(), m.rowID},
		})
	if err != nil {
		return fmt.Errorf("queue store: nack %s: %w", m.ID, err)
	}
	m.rowID = 0
	return nil
}

// Count returns the number of rows that are neither acked nor dropped,
// ready and unacked alike.
func (s *Store) Count(ctx context.Context) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var n int64
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM messages`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("queue store: count: %w", err)
	}
	return int(n), nil
}

// Clear deletes every row and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM messages`, nil); err != nil {
		return 0, fmt.Errorf("queue store: clear: %w", err)
	}
	return conn.Changes(), nil
}

// RecoverUnacked returns rows left unacked by a crashed consumer to the
// ready state. Only the single worker process should call it, at startup.
func (s *Store) RecoverUnacked(ctx context.Context) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE messages SET status = ?, updated_at = ? WHERE status = ?`,
		&sqlitex.ExecOptions{Args: []any{statusReady, s.now().UnixNano(), statusUnack}})
	if err != nil {
		return 0, fmt.Errorf("queue store: recover: %w", err)
	}
	return conn.Changes(), nil
}

// PurgeShutdown deletes shutdown sentinels created before cutoff, left
// behind by a worker that died before consuming them.
func (s *Store) PurgeShutdown(ctx context.Context, cutoff time.Time) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM messages WHERE priority = ? AND created_at < ?`,
		&sqlitex.ExecOptions{Args: []any{int64(PriorityShutdown), cutoff.UnixNano()}})
	if err != nil {
		return 0, fmt.Errorf("queue store: purge shutdown: %w", err)
	}
	return conn.Changes(), nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the pool. Further calls return ErrStoreClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.codec.close()
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("queue store: close %s: %w", s.path, err)
	}
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
