package catalogstore

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// Store is the Catalog Store: durable transactional storage for
// every entity in the server/project/warehouse/namespace/tabular
// hierarchy. It holds two bun.DB handles (write/read) so callers can
// route read-only list/get traffic to a replica while commits always
// go through the write handle.
type Store struct {
	write *bun.DB
	read  *bun.DB
	log   zerolog.Logger
}

// Options configures the pooled connections backing a Store.
type Options struct {
	URLWrite     string
	URLRead      string // falls back to URLWrite when empty
	PoolMaxConns int
	Logger       zerolog.Logger
}

// NewStore opens the write (and, if distinct, read) connections, sets
// pool limits, and runs pending migrations on the write handle before
// returning. Migrations always run eagerly at construction; a failed
// migration kills startup rather than serving with a stale schema.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.URLRead == "" {
		opts.URLRead = opts.URLWrite
	}

	writeSQL, err := sql.Open("pgx", opts.URLWrite)
	if err != nil {
		return nil, errors.Wrap(ErrConnection, err, "failed to open write connection")
	}
	writeDB := bun.NewDB(writeSQL, pgdialect.New())

	var readDB *bun.DB
	if opts.URLRead == opts.URLWrite {
		readDB = writeDB
	} else {
		readSQL, err := sql.Open("pgx", opts.URLRead)
		if err != nil {
			writeDB.Close()
			return nil, errors.Wrap(ErrConnection, err, "failed to open read connection")
		}
		readDB = bun.NewDB(readSQL, pgdialect.New())
	}

	if opts.PoolMaxConns > 0 {
		writeSQL.SetMaxOpenConns(opts.PoolMaxConns)
		if readDB != writeDB {
			readDB.SetMaxOpenConns(opts.PoolMaxConns)
		}
	}

	s := &Store{write: writeDB, read: readDB, log: opts.Logger}

	migrator := NewMigrationManager(writeDB, opts.Logger)
	if err := migrator.MigrateToLatest(ctx); err != nil {
		writeDB.Close()
		if readDB != writeDB {
			readDB.Close()
		}
		log.Fatalf("catalogstore: migration failed, refusing to start: %v", err)
	}

	return s, nil
}

// WriteDB exposes the write handle for sibling packages that own their
// own relations on the same database (the task queue and the postgres
// secrets backend) so they share the pool instead of opening their own.
func (s *Store) WriteDB() *bun.DB { return s.write }

// ReadDB exposes the read handle for read-only sibling traffic.
func (s *Store) ReadDB() *bun.DB { return s.read }

func (s *Store) Close() error {
	err := s.write.Close()
	if s.read != s.write {
		if rerr := s.read.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

// WithTx runs fn inside a write transaction at repeatable-read
// isolation. It does not retry: a failed commit (such as a
// serialization failure) is returned as Conflict; retry belongs to the
// commit engine, which knows whether a retry is safe for the operation
// it is performing.
func (s *Store) WithTx(ctx context.Context, fn func(tx bun.Tx) error) error {
	tx, err := s.write.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return errors.Wrap(ErrConnection, err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(ErrConflict, err, "failed to commit transaction")
	}
	return nil
}

// now is a seam over time.Now for tests that freeze the clock. No code
// in this package reads it: created_at columns take their database
// default and cursor pagination does not compare times.
var now = time.Now
