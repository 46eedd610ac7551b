package store

import (
	"context"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// Store owns the todos table. One Store is opened per process and handed to
// whatever issues operations; it never logs.
type Store struct {
	db *sqlx.DB
	d  dialect

	// wmu serializes every mutation so the table has a single logical writer.
	wmu sync.Mutex
}

// New opens the database and brings its schema up to date before returning.
func New(ctx context.Context, driver, dsn string, logger log.FieldLogger) (*Store, error) {
	s, err := Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := NewMigrator(s, logger).Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Open connects without touching the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	dsn, err = d.prepareDSN(dsn)
	if err != nil {
		return nil, storageErr("dsn", err)
	}
	// sqlx derives the placeholder style from the driver name.
	db, err := sqlx.Open(d.driverName, dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	if d.name == sqliteDialect.name && isMemoryDSN(dsn) {
		// each connection to :memory: would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storageErr("ping", err)
	}
	return &Store{db: db, d: d}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Driver() string { return s.d.name }

// ServerVersion reports the version of the database engine behind the store.
func (s *Store) ServerVersion(ctx context.Context) (string, error) {
	var ver string
	if err := s.db.QueryRowContext(ctx, s.d.versionQuery).Scan(&ver); err != nil {
		return "", storageErr("version", err)
	}
	return extractFirstVersionNumber(ver), nil
}

// Columns lists the columns of the todos table in declaration order. An empty
// result means the table does not exist yet.
func (s *Store) Columns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.d.columnsQuery)
	if err != nil {
		return nil, storageErr("probe columns", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr("probe columns", err)
		}
		out = append(out, strings.ToLower(name))
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("probe columns", err)
	}
	return out, nil
}

func extractFirstVersionNumber(s string) string {
	for _, p := range strings.Fields(s) {
		for i := 0; i < len(p); i++ {
			if p[i] >= '0' && p[i] <= '9' {
				return p
			}
		}
	}
	return s
}
