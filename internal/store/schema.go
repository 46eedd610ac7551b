package store

import (
	"context"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

// MigrationReport describes what a Migrate run changed.
type MigrationReport struct {
	Created bool
	Added   []string
	// Skipped holds columns whose ADD failed because another writer had
	// already added them.
	Skipped    []string
	Backfilled int64
}

func (r *MigrationReport) UpToDate() bool {
	return !r.Created && len(r.Added) == 0 && r.Backfilled == 0
}

// Migrator evolves the todos table additively. It inspects the columns that
// exist, adds the missing ones with their defaults and is safe to re-run.
type Migrator struct {
	st  *Store
	log log.FieldLogger
}

func NewMigrator(st *Store, logger log.FieldLogger) *Migrator {
	if logger == nil {
		l := log.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Migrator{st: st, log: logger.WithField("table", tableName)}
}

// Migrate brings the table to the current column set. Only a failing probe or
// a failing DDL statement is returned as an error.
func (m *Migrator) Migrate(ctx context.Context) (*MigrationReport, error) {
	m.st.wmu.Lock()
	defer m.st.wmu.Unlock()

	cols, err := m.st.Columns(ctx)
	if err != nil {
		return nil, err
	}

	rep := &MigrationReport{}
	if len(cols) == 0 {
		if _, err := m.st.db.ExecContext(ctx, m.st.d.createTable); err != nil {
			return rep, storageErr("create table", err)
		}
		rep.Created = true
		m.log.Info("created table")
	} else {
		have := make(map[string]bool, len(cols))
		for _, c := range cols {
			have[c] = true
		}
		for _, c := range coreColumns {
			if !have[c] {
				return rep, storageErr("probe columns", fmt.Errorf("table %s has no %s column", tableName, c))
			}
		}
		for _, c := range additiveColumns {
			if have[c] {
				continue
			}
			if err := m.addColumn(ctx, c, rep); err != nil {
				return rep, err
			}
		}
	}

	if err := m.ensureIndex(ctx); err != nil {
		return rep, err
	}
	if rep.UpToDate() {
		m.log.Debug("schema up to date")
	}
	return rep, nil
}

// addColumn adds one column and, for position, copies id into it so existing
// rows keep their creation order.
func (m *Migrator) addColumn(ctx context.Context, col string, rep *MigrationReport) error {
	l := m.log.WithField("column", col)

	tx, err := m.st.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("add column "+col, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.st.d.addColumnDDL(col)); err != nil {
		if m.st.d.dupColumn(err) {
			l.WithError(err).Warn("column already exists; treating as applied")
			rep.Skipped = append(rep.Skipped, col)
			return nil
		}
		return storageErr("add column "+col, err)
	}

	var backfilled int64
	if col == colPosition {
		res, err := tx.ExecContext(ctx, `UPDATE todos SET position = id`)
		if err != nil {
			return storageErr("backfill position", err)
		}
		if backfilled, err = res.RowsAffected(); err != nil {
			return storageErr("backfill position", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("add column "+col, err)
	}

	rep.Added = append(rep.Added, col)
	rep.Backfilled += backfilled
	l.WithField("backfilled", backfilled).Info("added column")
	return nil
}

func (m *Migrator) ensureIndex(ctx context.Context) error {
	if _, err := m.st.db.ExecContext(ctx, m.st.d.createIndex); err != nil {
		if m.st.d.dupIndex(err) {
			return nil
		}
		return storageErr("create index", err)
	}
	return nil
}
