package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// List returns every task in visible order: position ascending, id breaking ties.
func (s *Store) List(ctx context.Context) ([]Task, error) {
	out := make([]Task, 0)
	if err := s.db.SelectContext(ctx, &out, `SELECT `+selectColumns+` FROM todos ORDER BY position ASC, id ASC`); err != nil {
		return nil, storageErr("list", err)
	}
	for i := range out {
		out[i].normalize()
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Task, error) {
	var t Task
	err := s.db.GetContext(ctx, &t, s.db.Rebind(`SELECT `+selectColumns+` FROM todos WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	t.normalize()
	return &t, nil
}

// Create appends a task after every existing one and returns it as stored.
func (s *Store) Create(ctx context.Context, in NewTask) (*Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, invalidf("title is required")
	}
	due, err := normalizeDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}
	t := Task{
		Title:    in.Title,
		Priority: ParsePriority(string(in.Priority)),
		DueDate:  due,
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("create", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) + 1 FROM todos`).Scan(&t.Position); err != nil {
		return nil, storageErr("create", err)
	}

	const insert = `INSERT INTO todos (title, completed, priority, due_date, position) VALUES (?, ?, ?, ?, ?)`
	args := []any{t.Title, false, string(t.Priority), t.DueDate, t.Position}
	if s.d.returning {
		err = tx.QueryRowContext(ctx, s.db.Rebind(insert+` RETURNING id`), args...).Scan(&t.ID)
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, s.db.Rebind(insert), args...)
		if err == nil {
			t.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		return nil, storageErr("create", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("create", err)
	}
	return &t, nil
}

// Update replaces title, completion, priority and due date of one task in a
// single statement; KeepPriority and KeepDueDate leave those columns as
// stored. It returns the number of rows matched: 0 when id does not exist.
func (s *Store) Update(ctx context.Context, id int64, in TaskUpdate) (int64, error) {
	if strings.TrimSpace(in.Title) == "" {
		return 0, invalidf("title is required")
	}
	sets := []string{"title = ?", "completed = ?"}
	args := []any{in.Title, in.Completed}
	if !in.KeepPriority {
		sets = append(sets, "priority = ?")
		args = append(args, string(ParsePriority(string(in.Priority))))
	}
	if !in.KeepDueDate {
		due, err := normalizeDueDate(in.DueDate)
		if err != nil {
			return 0, err
		}
		sets = append(sets, "due_date = ?")
		args = append(args, due)
	}
	args = append(args, id)

	s.wmu.Lock()
	defer s.wmu.Unlock()

	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE todos SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	return affected("update", res, err)
}

// DeleteOne removes a task and returns the number of rows removed (0 or 1).
func (s *Store) DeleteOne(ctx context.Context, id int64) (int64, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM todos WHERE id = ?`), id)
	return affected("delete", res, err)
}

func (s *Store) DeleteCompleted(ctx context.Context) (int64, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM todos WHERE completed = ?`), true)
	return affected("delete completed", res, err)
}

// Reorder gives each listed task a position equal to its index in ids. The
// updates commit together or not at all. Tasks missing from ids keep their
// position; ids that match no task are ignored.
func (s *Store) Reorder(ctx context.Context, ids []int64) error {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return invalidf("id %d listed more than once", id)
		}
		seen[id] = struct{}{}
	}
	if len(ids) == 0 {
		return nil
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("reorder", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.db.Rebind(`UPDATE todos SET position = ? WHERE id = ?`))
	if err != nil {
		return storageErr("reorder", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, int64(i), id); err != nil {
			return storageErr("reorder", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("reorder", err)
	}
	return nil
}

func affected(op string, res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(op, err)
	}
	return n, nil
}
