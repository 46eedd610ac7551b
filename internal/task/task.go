package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"todo-proj/internal/store"
	"todo-proj/pkg/mq"
)

// Repository is the operation surface of the task store.
type Repository interface {
	List(ctx context.Context) ([]store.Task, error)
	Get(ctx context.Context, id int64) (*store.Task, error)
	Create(ctx context.Context, in store.NewTask) (*store.Task, error)
	Update(ctx context.Context, id int64, in store.TaskUpdate) (int64, error)
	DeleteOne(ctx context.Context, id int64) (int64, error)
	DeleteCompleted(ctx context.Context) (int64, error)
	Reorder(ctx context.Context, ids []int64) error
}

type EventType string

const (
	TaskCreated    EventType = "task-created"
	TaskUpdated    EventType = "task-updated"
	TaskDeleted    EventType = "task-deleted"
	TasksCleared   EventType = "tasks-cleared"
	TasksReordered EventType = "tasks-reordered"
)

// Event announces a committed change so other views can refresh.
type Event struct {
	ID     string    `json:"id"`
	Type   EventType `json:"type"`
	TaskID int64     `json:"task_id,omitempty"`
	IDs    []int64   `json:"ids,omitempty"`
	Count  int64     `json:"count,omitempty"`
	Time   int64     `json:"time"`
}

// CreateInput is what a caller may set on a new task.
type CreateInput struct {
	Title    string
	Priority string
	DueDate  *string
}

// UpdateInput replaces every caller-editable field of a task. KeepPriority
// and KeepDueDate leave the stored value in place instead.
type UpdateInput struct {
	Title        string
	Completed    bool
	Priority     string
	DueDate      *string
	KeepPriority bool
	KeepDueDate  bool
}

// Manager validates requests, runs them against the store and announces
// every successful change.
type Manager struct {
	repo   Repository
	pub    mq.Publisher
	topic  string
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Manager)

func WithPublisher(p mq.Publisher, topic string) Option {
	return func(m *Manager) {
		m.pub = p
		if topic != "" {
			m.topic = topic
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

func NewManager(repo Repository, opts ...Option) *Manager {
	m := &Manager{
		repo:   repo,
		pub:    mq.Noop{},
		topic:  "todos",
		tracer: otel.Tracer("todo-proj/task"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Topic() string { return m.topic }

func (m *Manager) List(ctx context.Context) (tasks []store.Task, err error) {
	ctx, span := m.tracer.Start(ctx, "task.List")
	defer func() {
		span.SetAttributes(attribute.Int("task.count", len(tasks)))
		end(span, err)
	}()
	return m.repo.List(ctx)
}

func (m *Manager) Get(ctx context.Context, id int64) (t *store.Task, err error) {
	ctx, span := m.tracer.Start(ctx, "task.Get", trace.WithAttributes(attribute.Int64("task.id", id)))
	defer func() { end(span, err) }()
	return m.repo.Get(ctx, id)
}

func (m *Manager) Create(ctx context.Context, in CreateInput) (t *store.Task, err error) {
	ctx, span := m.tracer.Start(ctx, "task.Create")
	defer func() { end(span, err) }()

	if strings.TrimSpace(in.Title) == "" {
		return nil, errTitleRequired
	}
	t, err = m.repo.Create(ctx, store.NewTask{
		Title:    in.Title,
		Priority: store.ParsePriority(in.Priority),
		DueDate:  in.DueDate,
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("task.id", t.ID), attribute.Int64("task.position", t.Position))
	m.publish(ctx, Event{Type: TaskCreated, TaskID: t.ID})
	return t, nil
}

// Update rewrites a task and returns it as stored afterwards.
func (m *Manager) Update(ctx context.Context, id int64, in UpdateInput) (t *store.Task, err error) {
	ctx, span := m.tracer.Start(ctx, "task.Update", trace.WithAttributes(attribute.Int64("task.id", id)))
	defer func() { end(span, err) }()

	if strings.TrimSpace(in.Title) == "" {
		return nil, errTitleRequired
	}
	n, err := m.repo.Update(ctx, id, store.TaskUpdate{
		Title:        in.Title,
		Completed:    in.Completed,
		Priority:     store.ParsePriority(in.Priority),
		DueDate:      in.DueDate,
		KeepPriority: in.KeepPriority,
		KeepDueDate:  in.KeepDueDate,
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrNotFound
	}
	m.publish(ctx, Event{Type: TaskUpdated, TaskID: id})
	return m.repo.Get(ctx, id)
}

func (m *Manager) Delete(ctx context.Context, id int64) (err error) {
	ctx, span := m.tracer.Start(ctx, "task.Delete", trace.WithAttributes(attribute.Int64("task.id", id)))
	defer func() { end(span, err) }()

	n, err := m.repo.DeleteOne(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	m.publish(ctx, Event{Type: TaskDeleted, TaskID: id})
	return nil
}

// ClearCompleted removes all completed tasks and returns how many went.
func (m *Manager) ClearCompleted(ctx context.Context) (n int64, err error) {
	ctx, span := m.tracer.Start(ctx, "task.ClearCompleted")
	defer func() {
		span.SetAttributes(attribute.Int64("task.deleted", n))
		end(span, err)
	}()

	n, err = m.repo.DeleteCompleted(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.publish(ctx, Event{Type: TasksCleared, Count: n})
	}
	return n, nil
}

func (m *Manager) Reorder(ctx context.Context, ids []int64) (err error) {
	ctx, span := m.tracer.Start(ctx, "task.Reorder", trace.WithAttributes(attribute.Int("task.count", len(ids))))
	defer func() { end(span, err) }()

	if err := m.repo.Reorder(ctx, ids); err != nil {
		return err
	}
	m.publish(ctx, Event{Type: TasksReordered, IDs: ids})
	return nil
}

// publish is best effort: the change is already committed, so a failed
// notification is only recorded on the span.
func (m *Manager) publish(ctx context.Context, ev Event) {
	ev.ID = uuid.NewString()
	ev.Time = m.now().UnixMilli()
	payload, err := sonic.Marshal(ev)
	if err == nil {
		err = m.pub.Publish(ctx, m.topic, payload)
	}
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err, trace.WithAttributes(attribute.String("event.type", string(ev.Type))))
	}
}

var errTitleRequired = fmt.Errorf("%w: title is required", store.ErrInvalid)

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if store.IsStorageFault(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
