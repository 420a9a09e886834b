package sessions

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a lock times out.
var ErrLockTimeout = errors.New("session: lock acquisition timeout")

// Locker serializes work on one session. Lock blocks until the lock is
// held, the timeout elapses or ctx ends; every successful Lock must be
// paired with Unlock.
type Locker interface {
	Lock(ctx context.Context, sessionID string) error
	Unlock(sessionID string)
}

// LocalLocker is an in-process per-session mutex. Entries are removed
// once no goroutine holds or waits for them.
type LocalLocker struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker. A zero timeout waits until the
// context ends.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{
		timeout: timeout,
		locks:   make(map[string]*localLock),
	}
}

func (l *LocalLocker) Lock(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSessionID
	}

	l.mu.Lock()
	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &localLock{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	var timeout <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case lock.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(sessionID, lock)
		return ctx.Err()
	case <-timeout:
		l.release(sessionID, lock)
		return ErrLockTimeout
	}
}

func (l *LocalLocker) Unlock(sessionID string) {
	l.mu.Lock()
	lock, ok := l.locks[sessionID]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-lock.ch:
	default:
		return
	}
	l.release(sessionID, lock)
}

func (l *LocalLocker) release(sessionID string, lock *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, sessionID)
	}
}

// Len returns the number of sessions currently locked or waited on.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// AdvisoryLocker serializes sessions across processes sharing a Postgres
// database using session-level advisory locks. Goroutines in this process
// queue on a LocalLocker first so each session holds at most one
// connection. The timeout bounds the whole acquisition, the in-process
// wait and pg_advisory_lock together.
type AdvisoryLocker struct {
	db      *sql.DB
	local   *LocalLocker
	timeout time.Duration

	mu    sync.Mutex
	conns map[string]*sql.Conn
}

// NewAdvisoryLocker creates an advisory locker on db.
func NewAdvisoryLocker(db *sql.DB, timeout time.Duration) (*AdvisoryLocker, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &AdvisoryLocker{
		db:      db,
		local:   NewLocalLocker(timeout),
		timeout: timeout,
		conns:   make(map[string]*sql.Conn),
	}, nil
}

// advisoryKey maps a session id onto the bigint key space of
// pg_advisory_lock.
func advisoryKey(sessionID string) int64 {
	h := fnv.New64a()
	h.Write([]byte("docqa:session:" + sessionID))
	return int64(h.Sum64())
}

func (l *AdvisoryLocker) Lock(ctx context.Context, sessionID string) error {
	lockCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := l.local.Lock(lockCtx, sessionID); err != nil {
		return lockError(ctx, lockCtx, err)
	}
	conn, err := l.db.Conn(lockCtx)
	if err != nil {
		l.local.Unlock(sessionID)
		return lockError(ctx, lockCtx, fmt.Errorf("acquire connection: %w", err))
	}
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, advisoryKey(sessionID)); err != nil {
		// The lock may have been granted as the query was cancelled;
		// dropping the connection releases it either way.
		discard(conn)
		l.local.Unlock(sessionID)
		return lockError(ctx, lockCtx, fmt.Errorf("advisory lock: %w", err))
	}

	l.mu.Lock()
	l.conns[sessionID] = conn
	l.mu.Unlock()
	return nil
}

// lockError reports ErrLockTimeout when the acquisition deadline, not the
// caller's context, ended the wait.
func lockError(ctx, lockCtx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(lockCtx.Err(), context.DeadlineExceeded) {
		return ErrLockTimeout
	}
	return err
}

// discard closes conn's underlying connection instead of returning it to
// the pool, so the server drops any session-level locks it holds.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	conn.Close()
}

func (l *AdvisoryLocker) Unlock(sessionID string) {
	l.mu.Lock()
	conn, ok := l.conns[sessionID]
	delete(l.conns, sessionID)
	l.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, advisoryKey(sessionID)); err != nil {
		discard(conn)
	} else {
		conn.Close()
	}
	l.local.Unlock(sessionID)
}
