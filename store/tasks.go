package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"prism-todo/domain"
	"prism-todo/events"
	"prism-todo/storage"
)

// View is the derived projection pushed to subscribers after every change.
type View struct {
	Tasks  []domain.Task     `json:"tasks"`
	Query  string            `json:"query"`
	Filter domain.FilterMode `json:"filter"`
	Sort   domain.SortMode   `json:"sort"`
}

// TaskStore owns the task collection and its derived view.
//
// Every method is atomic with respect to the others. Mutations are persisted
// before they return and every change publishes a fresh view. Published views
// share their task slice between subscribers and must be treated as read-only.
type TaskStore struct {
	mu      sync.Mutex
	persist *storage.Persistent
	clock   *Clock
	newID   func() string

	tasks  []domain.Task
	query  string
	filter domain.FilterMode
	sort   domain.SortMode
	view   View

	views *events.Bus[View]
}

// NewTaskStore creates an empty store. Call Load to read persisted tasks.
func NewTaskStore(p *storage.Persistent, clock *Clock) *TaskStore {
	if clock == nil {
		clock = NewClock(nil)
	}
	s := &TaskStore{
		persist: p,
		clock:   clock,
		newID:   uuid.NewString,
		filter:  domain.FilterAll,
		sort:    domain.SortCustom,
		views:   events.NewBus[View](),
	}
	s.view = s.computeLocked()
	return s
}

// Load replaces the collection with the persisted tasks. Malformed text leaves
// an empty collection and returns the *storage.DecodeError.
func (s *TaskStore) Load(ctx context.Context) error {
	tasks, _, err := s.persist.LoadTasks(ctx)
	for i := range tasks {
		if tasks[i].Categories == nil {
			tasks[i].Categories = []string{}
		}
		s.clock.Observe(tasks[i].CreatedAt)
	}
	s.mu.Lock()
	s.tasks = tasks
	s.publishLocked()
	s.mu.Unlock()
	return err
}

// Subscribe returns a channel receiving every new view.
func (s *TaskStore) Subscribe(buffer int) (<-chan View, func()) {
	return s.views.Subscribe(buffer)
}

// Close ends all view subscriptions.
func (s *TaskStore) Close() {
	s.views.Close()
}

// Add appends a task built from d. Missing or unusable fields are defaulted, never rejected.
func (s *TaskStore) Add(ctx context.Context, d domain.TaskDraft) (domain.Task, error) {
	task := domain.NewTask(s.newID(), s.clock.Next(), d)
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	err := s.saveLocked(ctx)
	s.publishLocked()
	s.mu.Unlock()
	return task.Clone(), err
}

// Update merges p into the task with the given id.
func (s *TaskStore) Update(ctx context.Context, id string, p domain.TaskPatch) (domain.Task, error) {
	return s.mutate(ctx, id, p.Apply)
}

func (s *TaskStore) ToggleCompleted(ctx context.Context, id string) (domain.Task, error) {
	return s.mutate(ctx, id, func(t *domain.Task) { t.Completed = !t.Completed })
}

func (s *TaskStore) TogglePinned(ctx context.Context, id string) (domain.Task, error) {
	return s.mutate(ctx, id, func(t *domain.Task) { t.Pinned = !t.Pinned })
}

// AddCategory tags a task with value. A task already holding the maximum
// number of categories is left unchanged and a *domain.ValidationError returned.
func (s *TaskStore) AddCategory(ctx context.Context, id, value string) (domain.Task, error) {
	if value == "" {
		return domain.Task{}, &domain.ValidationError{Field: "categories", Reason: "category value is empty"}
	}
	var capErr error
	task, err := s.mutate(ctx, id, func(t *domain.Task) {
		if t.HasCategory(value) {
			return
		}
		if len(t.Categories) >= domain.MaxCategories {
			capErr = &domain.ValidationError{
				Field:  "categories",
				Reason: fmt.Sprintf("you can only select up to %d categories per task", domain.MaxCategories),
			}
			return
		}
		t.Categories = append(t.Categories, value)
	})
	if err == nil && capErr != nil {
		return task, capErr
	}
	return task, err
}

// RemoveCategory drops value from the task's categories.
func (s *TaskStore) RemoveCategory(ctx context.Context, id, value string) (domain.Task, error) {
	return s.mutate(ctx, id, func(t *domain.Task) {
		out := t.Categories[:0]
		for _, c := range t.Categories {
			if c != value {
				out = append(out, c)
			}
		}
		t.Categories = out
	})
}

func (s *TaskStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	s.tasks = append(s.tasks[:idx], s.tasks[idx+1:]...)
	err := s.saveLocked(ctx)
	s.publishLocked()
	s.mu.Unlock()
	return err
}

func (s *TaskStore) mutate(ctx context.Context, id string, fn func(*domain.Task)) (domain.Task, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Task{}, ErrTaskNotFound
	}
	before := s.tasks[idx].Clone()
	fn(&s.tasks[idx])
	// identity is immutable whatever the patch says
	s.tasks[idx].ID = before.ID
	s.tasks[idx].CreatedAt = before.CreatedAt
	task := s.tasks[idx].Clone()
	err := s.saveLocked(ctx)
	s.publishLocked()
	s.mu.Unlock()
	return task, err
}

// SetSearchQuery stores the raw search text.
func (s *TaskStore) SetSearchQuery(q string) View {
	return s.setViewInput(func() { s.query = q })
}

// ClearSearch resets the search text.
func (s *TaskStore) ClearSearch() View {
	return s.SetSearchQuery("")
}

// SetSortMode selects the sort. Unknown modes fall back to custom.
func (s *TaskStore) SetSortMode(m domain.SortMode) View {
	if !m.Known() {
		m = domain.SortCustom
	}
	return s.setViewInput(func() { s.sort = m })
}

// SetFilterMode selects the filter. Unknown modes fall back to all.
func (s *TaskStore) SetFilterMode(m domain.FilterMode) View {
	if !m.Known() {
		m = domain.FilterAll
	}
	return s.setViewInput(func() { s.filter = m })
}

func (s *TaskStore) setViewInput(fn func()) View {
	s.mu.Lock()
	fn()
	v := s.publishLocked()
	s.mu.Unlock()
	return v
}

// Refresh recomputes the view against the current time, for the overdue filter.
func (s *TaskStore) Refresh() View {
	return s.setViewInput(func() {})
}

// View returns the current derived view.
func (s *TaskStore) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneView(s.view)
}

// Tasks returns every task in insertion order.
func (s *TaskStore) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTasks(s.tasks)
}

func (s *TaskStore) Get(id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.Task{}, ErrTaskNotFound
	}
	return s.tasks[idx].Clone(), nil
}

func (s *TaskStore) indexLocked(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *TaskStore) saveLocked(ctx context.Context) error {
	if err := s.persist.SaveTasks(ctx, s.tasks); err != nil {
		return &PersistError{Key: storage.KeyTodos, Err: err}
	}
	return nil
}

// publishLocked recomputes the view and pushes it to subscribers in mutation order.
func (s *TaskStore) publishLocked() View {
	s.view = s.computeLocked()
	v := cloneView(s.view)
	s.views.Publish(v)
	return v
}

func (s *TaskStore) computeLocked() View {
	return View{
		Tasks: domain.BuildView(s.tasks, domain.ViewOptions{
			Query:  s.query,
			Filter: s.filter,
			Sort:   s.sort,
			Now:    s.clock.Now(),
		}),
		Query:  s.query,
		Filter: s.filter,
		Sort:   s.sort,
	}
}

func cloneView(v View) View {
	v.Tasks = cloneTasks(v.Tasks)
	return v
}

func cloneTasks(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
