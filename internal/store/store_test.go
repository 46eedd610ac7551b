package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "todo.db"), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustCreate(t *testing.T, st *Store, in NewTask) *Task {
	t.Helper()
	task, err := st.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create %q: %v", in.Title, err)
	}
	return task
}

func listIDs(t *testing.T, st *Store) []int64 {
	t.Helper()
	tasks, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := make([]int64, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return ids
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func strPtr(s string) *string { return &s }

func TestCreateFirstTask(t *testing.T) {
	st := newTestStore(t)

	got := mustCreate(t, st, NewTask{Title: "Buy milk"})
	want := Task{ID: 1, Title: "Buy milk", Priority: PriorityLow, Position: 1}
	if got.ID != want.ID || got.Title != want.Title || got.Completed || got.Priority != want.Priority ||
		got.DueDate != nil || got.Position != want.Position {
		t.Fatalf("created %+v, want %+v", *got, want)
	}

	stored, err := st.Get(context.Background(), got.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *stored != *got {
		t.Fatalf("stored %+v differs from returned %+v", *stored, *got)
	}
}

func TestCreateAppendsInOrder(t *testing.T) {
	st := newTestStore(t)

	mustCreate(t, st, NewTask{Title: "Buy milk"})
	mustCreate(t, st, NewTask{Title: "Pay rent", Priority: PriorityHigh})
	mustCreate(t, st, NewTask{Title: "Walk dog"})

	tasks, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []struct {
		title    string
		pos      int64
		priority Priority
	}{
		{"Buy milk", 1, PriorityLow},
		{"Pay rent", 2, PriorityHigh},
		{"Walk dog", 3, PriorityLow},
	}
	if len(tasks) != len(want) {
		t.Fatalf("got %d tasks, want %d", len(tasks), len(want))
	}
	for i, w := range want {
		if tasks[i].Title != w.title || tasks[i].Position != w.pos || tasks[i].Priority != w.priority {
			t.Errorf("task %d = %+v, want %+v", i, tasks[i], w)
		}
	}
}

func TestCreateIDsStrictlyIncrease(t *testing.T) {
	st := newTestStore(t)
	var last int64
	for i := 0; i < 10; i++ {
		task := mustCreate(t, st, NewTask{Title: "t"})
		if task.ID <= last {
			t.Fatalf("id %d not greater than previous %d", task.ID, last)
		}
		last = task.ID
	}
}

func TestCreateNormalizesInput(t *testing.T) {
	st := newTestStore(t)

	tests := []struct {
		name     string
		in       NewTask
		priority Priority
		due      *string
	}{
		{"unknown priority", NewTask{Title: "a", Priority: "urgent"}, PriorityLow, nil},
		{"upper case priority", NewTask{Title: "b", Priority: "HIGH"}, PriorityLow, nil},
		{"padded priority", NewTask{Title: "b", Priority: " high"}, PriorityLow, nil},
		{"blank due date", NewTask{Title: "c", DueDate: strPtr("  ")}, PriorityLow, nil},
		{"due date", NewTask{Title: "d", DueDate: strPtr("2024-02-29")}, PriorityLow, strPtr("2024-02-29")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustCreate(t, st, tt.in)
			if got.Priority != tt.priority {
				t.Errorf("priority = %q, want %q", got.Priority, tt.priority)
			}
			if (got.DueDate == nil) != (tt.due == nil) || (got.DueDate != nil && *got.DueDate != *tt.due) {
				t.Errorf("due date = %v, want %v", got.DueDate, tt.due)
			}
		})
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	st := newTestStore(t)

	for _, in := range []NewTask{
		{Title: ""},
		{Title: "   "},
		{Title: "x", DueDate: strPtr("tomorrow")},
		{Title: "x", DueDate: strPtr("2023-02-30")},
	} {
		if _, err := st.Create(context.Background(), in); !errors.Is(err, ErrInvalid) {
			t.Errorf("create %+v: err = %v, want ErrInvalid", in, err)
		}
	}
	if ids := listIDs(t, st); len(ids) != 0 {
		t.Fatalf("rejected creates stored tasks: %v", ids)
	}
}

func TestGetMissing(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Get(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if IsStorageFault(err) {
		t.Fatalf("not found reported as storage fault")
	}
}

func TestUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, st, NewTask{Title: "Buy milk"})
	task := mustCreate(t, st, NewTask{Title: "Pay rent", Priority: PriorityHigh})

	n, err := st.Update(ctx, task.ID, TaskUpdate{
		Title:     "Pay rent early",
		Completed: true,
		Priority:  PriorityHigh,
		DueDate:   strPtr("2025-01-31"),
	})
	if err != nil || n != 1 {
		t.Fatalf("update = %d, %v", n, err)
	}

	got, err := st.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Pay rent early" || !got.Completed || got.Priority != PriorityHigh ||
		got.DueDate == nil || *got.DueDate != "2025-01-31" {
		t.Fatalf("updated task = %+v", *got)
	}
	if got.Position != task.Position {
		t.Fatalf("position changed from %d to %d", task.Position, got.Position)
	}

	// clearing the due date and defaulting the priority
	if _, err := st.Update(ctx, task.ID, TaskUpdate{Title: "Pay rent early"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = st.Get(ctx, task.ID)
	if got.DueDate != nil || got.Priority != PriorityLow || got.Completed {
		t.Fatalf("second update = %+v", *got)
	}
}

func TestUpdateKeepsPriorityAndDueDate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := mustCreate(t, st, NewTask{Title: "Pay rent", Priority: PriorityHigh, DueDate: strPtr("2025-01-31")})

	n, err := st.Update(ctx, task.ID, TaskUpdate{
		Title:        "Pay rent early",
		Completed:    true,
		DueDate:      strPtr("not a date"),
		KeepPriority: true,
		KeepDueDate:  true,
	})
	if err != nil || n != 1 {
		t.Fatalf("update = %d, %v", n, err)
	}
	got, _ := st.Get(ctx, task.ID)
	if got.Title != "Pay rent early" || !got.Completed || got.Priority != PriorityHigh ||
		got.DueDate == nil || *got.DueDate != "2025-01-31" {
		t.Fatalf("updated task = %+v", *got)
	}

	n, err = st.Update(ctx, 999, TaskUpdate{Title: "ghost", KeepPriority: true, KeepDueDate: true})
	if err != nil || n != 0 {
		t.Fatalf("update missing = %d, %v; want 0, nil", n, err)
	}
}

func TestUpdateUnchangedValuesStillMatches(t *testing.T) {
	st := newTestStore(t)
	task := mustCreate(t, st, NewTask{Title: "same"})

	n, err := st.Update(context.Background(), task.ID, TaskUpdate{Title: "same", Priority: PriorityLow})
	if err != nil || n != 1 {
		t.Fatalf("update = %d, %v; want 1, nil", n, err)
	}
}

func TestUpdateMissing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	other := mustCreate(t, st, NewTask{Title: "untouched"})

	n, err := st.Update(ctx, 999, TaskUpdate{Title: "ghost", Completed: true})
	if err != nil || n != 0 {
		t.Fatalf("update missing = %d, %v; want 0, nil", n, err)
	}
	got, _ := st.Get(ctx, other.ID)
	if *got != *other {
		t.Fatalf("other task modified: %+v", *got)
	}
}

func TestUpdateRejectsEmptyTitle(t *testing.T) {
	st := newTestStore(t)
	task := mustCreate(t, st, NewTask{Title: "x"})

	if _, err := st.Update(context.Background(), task.ID, TaskUpdate{Title: ""}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestDeleteOne(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, st, NewTask{Title: "a"})
	b := mustCreate(t, st, NewTask{Title: "b"})

	n, err := st.DeleteOne(ctx, b.ID)
	if err != nil || n != 1 {
		t.Fatalf("delete = %d, %v", n, err)
	}
	if _, err := st.Get(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted task still readable: %v", err)
	}
	n, err = st.DeleteOne(ctx, b.ID)
	if err != nil || n != 0 {
		t.Fatalf("second delete = %d, %v; want 0, nil", n, err)
	}

	// ids are never reused, even for the most recently deleted one
	c := mustCreate(t, st, NewTask{Title: "c"})
	if c.ID <= b.ID {
		t.Fatalf("new id %d reuses deleted id %d", c.ID, b.ID)
	}
	if ids := listIDs(t, st); !equalIDs(ids, []int64{a.ID, c.ID}) {
		t.Fatalf("ids = %v", ids)
	}
}

func TestDeleteCompleted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n, err := st.DeleteCompleted(ctx)
	if err != nil || n != 0 {
		t.Fatalf("delete completed on empty store = %d, %v", n, err)
	}

	milk := mustCreate(t, st, NewTask{Title: "Buy milk"})
	rent := mustCreate(t, st, NewTask{Title: "Pay rent", Priority: PriorityHigh})
	dog := mustCreate(t, st, NewTask{Title: "Walk dog"})

	if _, err := st.Update(ctx, rent.ID, TaskUpdate{Title: "Pay rent early", Completed: true, Priority: PriorityHigh}); err != nil {
		t.Fatalf("update: %v", err)
	}

	n, err = st.DeleteCompleted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("delete completed = %d, %v; want 1", n, err)
	}
	if ids := listIDs(t, st); !equalIDs(ids, []int64{milk.ID, dog.ID}) {
		t.Fatalf("remaining ids = %v", ids)
	}
	got, _ := st.Get(ctx, milk.ID)
	if *got != *milk {
		t.Fatalf("incomplete task changed: %+v", *got)
	}
}

func TestReorder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"Buy milk", "Pay rent", "Walk dog"} {
		mustCreate(t, st, NewTask{Title: title})
	}
	if err := st.Reorder(ctx, []int64{3, 1, 2}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if ids := listIDs(t, st); !equalIDs(ids, []int64{3, 1, 2}) {
		t.Fatalf("ids after reorder = %v", ids)
	}

	tasks, _ := st.List(ctx)
	for i, task := range tasks {
		if task.Position != int64(i) {
			t.Errorf("task %d position = %d, want %d", task.ID, task.Position, i)
		}
	}

	// new tasks still land at the end
	d := mustCreate(t, st, NewTask{Title: "Call mom"})
	if ids := listIDs(t, st); !equalIDs(ids, []int64{3, 1, 2, d.ID}) {
		t.Fatalf("ids after append = %v", ids)
	}
}

func TestReorderPartialAndUnknownIDs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		mustCreate(t, st, NewTask{Title: "t"})
	}
	// 4 -> 0, 3 -> 1, 99 matches nothing; 1 and 2 keep positions 1 and 2
	if err := st.Reorder(ctx, []int64{4, 3, 99}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if ids := listIDs(t, st); !equalIDs(ids, []int64{4, 1, 3, 2}) {
		t.Fatalf("ids = %v", ids)
	}
}

func TestReorderRejectsDuplicates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, st, NewTask{Title: "a"})
	mustCreate(t, st, NewTask{Title: "b"})

	if err := st.Reorder(ctx, []int64{2, 1, 2}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if err := st.Reorder(ctx, nil); err != nil {
		t.Fatalf("empty reorder: %v", err)
	}
	if ids := listIDs(t, st); !equalIDs(ids, []int64{1, 2}) {
		t.Fatalf("ids = %v", ids)
	}
}

func TestReorderIsAtomic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mustCreate(t, st, NewTask{Title: "t"})
	}
	_, err := st.db.ExecContext(ctx, `CREATE TRIGGER fail_reorder BEFORE UPDATE OF position ON todos
WHEN NEW.id = 1 BEGIN SELECT RAISE(ABORT, 'boom'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	err = st.Reorder(ctx, []int64{3, 2, 1})
	if !IsStorageFault(err) {
		t.Fatalf("err = %v, want storage fault", err)
	}
	if ids := listIDs(t, st); !equalIDs(ids, []int64{1, 2, 3}) {
		t.Fatalf("partial reorder leaked: %v", ids)
	}
	tasks, _ := st.List(ctx)
	for _, task := range tasks {
		if task.Position != task.ID {
			t.Fatalf("task %d position = %d after rollback", task.ID, task.Position)
		}
	}
}

func TestConcurrentWriters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[int64]bool)
	)
	errs := make(chan error, n*2)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			task, err := st.Create(ctx, NewTask{Title: "concurrent"})
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			ids[task.ID] = true
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			if _, err := st.List(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent op: %v", err)
	}
	if len(ids) != n {
		t.Fatalf("got %d distinct ids, want %d", len(ids), n)
	}

	tasks, _ := st.List(ctx)
	seen := make(map[int64]bool)
	for _, task := range tasks {
		if seen[task.Position] {
			t.Fatalf("position %d assigned twice", task.Position)
		}
		seen[task.Position] = true
	}
}

func TestStorageFaultAfterClose(t *testing.T) {
	st := newTestStore(t)
	_ = st.Close()

	if _, err := st.List(context.Background()); !IsStorageFault(err) {
		t.Fatalf("list on closed store: %v, want storage fault", err)
	}
	if _, err := st.Create(context.Background(), NewTask{Title: "x"}); !IsStorageFault(err) {
		t.Fatalf("create on closed store: %v, want storage fault", err)
	}
}

func TestOpenInMemory(t *testing.T) {
	st, err := New(context.Background(), "sqlite3", ":memory:", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer st.Close()

	mustCreate(t, st, NewTask{Title: "a"})
	mustCreate(t, st, NewTask{Title: "b"})
	if ids := listIDs(t, st); !equalIDs(ids, []int64{1, 2}) {
		t.Fatalf("ids = %v", ids)
	}
	if ver, err := st.ServerVersion(context.Background()); err != nil || ver == "" {
		t.Fatalf("server version = %q, %v", ver, err)
	}
}
