package sessions

import (
	"context"
	"fmt"
	"time"
)

// Open returns the store and locker for a configured backend: memory,
// sqlite or postgres. Postgres deployments lock sessions across processes;
// the others lock within this process.
func Open(ctx context.Context, backend, dsn string, lockTimeout time.Duration) (Store, Locker, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), NewLocalLocker(lockTimeout), nil
	case string(DialectSQLite):
		store, err := OpenSQLStore(ctx, DialectSQLite, dsn, DefaultSQLConfig())
		if err != nil {
			return nil, nil, err
		}
		return store, NewLocalLocker(lockTimeout), nil
	case string(DialectPostgres):
		store, err := OpenSQLStore(ctx, DialectPostgres, dsn, DefaultSQLConfig())
		if err != nil {
			return nil, nil, err
		}
		locker, err := NewAdvisoryLocker(store.DB(), lockTimeout)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, locker, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", backend)
	}
}
