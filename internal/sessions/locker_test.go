package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestLocalLockerSerializesSameSession(t *testing.T) {
	locker := NewLocalLocker(0)
	ctx := context.Background()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := locker.Lock(ctx, "sess"); err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			locker.Unlock("sess")
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive.Load())
	}
	if locker.Len() != 0 {
		t.Errorf("locker still tracks %d sessions", locker.Len())
	}
}

func TestLocalLockerIndependentSessions(t *testing.T) {
	locker := NewLocalLocker(50 * time.Millisecond)
	ctx := context.Background()

	if err := locker.Lock(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	defer locker.Unlock("a")

	if err := locker.Lock(ctx, "b"); err != nil {
		t.Fatalf("locking another session should not wait: %v", err)
	}
	locker.Unlock("b")
}

func TestLocalLockerTimeout(t *testing.T) {
	locker := NewLocalLocker(20 * time.Millisecond)
	ctx := context.Background()

	if err := locker.Lock(ctx, "sess"); err != nil {
		t.Fatal(err)
	}
	err := locker.Lock(ctx, "sess")
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second Lock() error = %v, want ErrLockTimeout", err)
	}
	locker.Unlock("sess")
	if locker.Len() != 0 {
		t.Errorf("locker still tracks %d sessions", locker.Len())
	}
}

func TestLocalLockerContextCancel(t *testing.T) {
	locker := NewLocalLocker(0)
	if err := locker.Lock(context.Background(), "sess"); err != nil {
		t.Fatal(err)
	}
	defer locker.Unlock("sess")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := locker.Lock(ctx, "sess"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock() error = %v, want deadline exceeded", err)
	}
}

func TestLocalLockerUnlockWithoutLock(t *testing.T) {
	locker := NewLocalLocker(0)
	locker.Unlock("nobody")
	if err := locker.Lock(context.Background(), ""); !errors.Is(err, ErrInvalidSessionID) {
		t.Errorf("Lock(\"\") error = %v", err)
	}
}

func TestAdvisoryLockerLockUnlock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	locker, err := NewAdvisoryLocker(db, time.Second)
	if err != nil {
		t.Fatalf("NewAdvisoryLocker: %v", err)
	}

	key := advisoryKey("sess-1")
	mock.ExpectExec("SELECT pg_advisory_lock").
		WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := locker.Lock(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	locker.Unlock("sess-1")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAdvisoryLockerLockError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	locker, _ := NewAdvisoryLocker(db, time.Second)
	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnError(errors.New("connection reset"))

	if err := locker.Lock(context.Background(), "sess-1"); err == nil {
		t.Fatal("expected lock error")
	}
	if locker.local.Len() != 0 {
		t.Error("local lock not released after advisory failure")
	}
}

func TestAdvisoryLockerTimeoutCoversDatabaseWait(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	locker, _ := NewAdvisoryLocker(db, 100*time.Millisecond)
	// Another process holds the advisory lock for longer than the timeout.
	mock.ExpectExec("SELECT pg_advisory_lock").
		WithArgs(advisoryKey("sess-1")).
		WillDelayFor(2 * time.Second).
		WillReturnResult(sqlmock.NewResult(0, 0))

	start := time.Now()
	err = locker.Lock(context.Background(), "sess-1")
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Lock() error = %v, want ErrLockTimeout", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("Lock() waited %v past a 100ms timeout", waited)
	}
	if locker.local.Len() != 0 {
		t.Error("local lock not released after timeout")
	}
}

func TestAdvisoryLockerCallerCancelIsNotTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	locker, _ := NewAdvisoryLocker(db, time.Minute)
	mock.ExpectExec("SELECT pg_advisory_lock").
		WillDelayFor(2 * time.Second).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = locker.Lock(ctx, "sess-1")
	if err == nil || errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Lock() error = %v, want the caller's context error", err)
	}
}

func TestAdvisoryKeyIsStable(t *testing.T) {
	if advisoryKey("a") != advisoryKey("a") {
		t.Error("advisory key is not deterministic")
	}
	if advisoryKey("a") == advisoryKey("b") {
		t.Error("distinct sessions share an advisory key")
	}
}
