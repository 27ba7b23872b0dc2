package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"prism-todo/domain"
	"prism-todo/storage"
)

// spyKV wraps a Memory store, counting writes and optionally failing them.
type spyKV struct {
	*storage.Memory
	mu     sync.Mutex
	sets   int
	failFn func(key string) error
}

func newSpyKV() *spyKV { return &spyKV{Memory: storage.NewMemory()} }

func (s *spyKV) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	s.sets++
	fail := s.failFn
	s.mu.Unlock()
	if fail != nil {
		if err := fail(key); err != nil {
			return err
		}
	}
	return s.Memory.Set(ctx, key, value)
}

func (s *spyKV) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func newTaskStore(t *testing.T, kv storage.KV, now time.Time) *TaskStore {
	t.Helper()
	clock := NewClock(func() time.Time { return now })
	s := NewTaskStore(storage.NewPersistent(kv), clock)
	t.Cleanup(s.Close)
	return s
}

func titles(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Title
	}
	return out
}

func TestAddBuyMilkDefaults(t *testing.T) {
	s := NewTaskStore(storage.NewPersistent(storage.NewMemory()), nil)
	defer s.Close()

	before := time.Now()
	task, err := s.Add(context.Background(), domain.TaskDraft{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if task.Priority != domain.PriorityMedium || task.Completed || task.Pinned {
		t.Fatalf("unexpected defaults: %+v", task)
	}
	if task.ID == "" {
		t.Fatalf("expected generated id")
	}
	if d := task.CreatedAt.Sub(before); d < 0 || d > 5*time.Second {
		t.Fatalf("createdAt %v not close to call time %v", task.CreatedAt, before)
	}
	if got := titles(s.View().Tasks); len(got) != 1 || got[0] != "Buy milk" {
		t.Fatalf("view = %v", got)
	}
}

func TestAddAssignsUniqueIDs(t *testing.T) {
	s := newTaskStore(t, storage.NewMemory(), time.Now())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Add(ctx, domain.TaskDraft{Title: fmt.Sprintf("task %d", i)})
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	created := map[int64]bool{}
	for _, task := range s.Tasks() {
		if seen[task.ID] {
			t.Fatalf("duplicate id %s", task.ID)
		}
		seen[task.ID] = true
		if created[task.CreatedAt.UnixNano()] {
			t.Fatalf("duplicate createdAt %v", task.CreatedAt)
		}
		created[task.CreatedAt.UnixNano()] = true
	}
	if len(seen) != 50 {
		t.Fatalf("expected 50 tasks, got %d", len(seen))
	}
}

func TestAlphabeticalSort(t *testing.T) {
	s := newTaskStore(t, storage.NewMemory(), time.Now())
	ctx := context.Background()
	_, _ = s.Add(ctx, domain.TaskDraft{Title: "Banana"})
	_, _ = s.Add(ctx, domain.TaskDraft{Title: "Apple"})

	if got := titles(s.View().Tasks); strings.Join(got, ",") != "Apple,Banana" {
		t.Fatalf("custom sort should be newest first, got %v", got)
	}
	v := s.SetSortMode(domain.SortAlphabetical)
	if got := titles(v.Tasks); strings.Join(got, ",") != "Apple,Banana" {
		t.Fatalf("alphabetical view = %v", got)
	}
	if v.Sort != domain.SortAlphabetical {
		t.Fatalf("view sort = %q", v.Sort)
	}
}

func TestOverdueFilterFollowsCompletion(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	s := newTaskStore(t, storage.NewMemory(), now)
	ctx := context.Background()

	yesterday := now.Add(-24 * time.Hour)
	task, _ := s.Add(ctx, domain.TaskDraft{Title: "Late", EndDate: &yesterday})
	_, _ = s.Add(ctx, domain.TaskDraft{Title: "No deadline"})

	v := s.SetFilterMode(domain.FilterOverdue)
	if got := titles(v.Tasks); len(got) != 1 || got[0] != "Late" {
		t.Fatalf("overdue view = %v", got)
	}
	if _, err := s.ToggleCompleted(ctx, task.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got := s.View().Tasks; len(got) != 0 {
		t.Fatalf("completed task still overdue: %v", titles(got))
	}
}

func TestCategoryFilterUnion(t *testing.T) {
	s := newTaskStore(t, storage.NewMemory(), time.Now())
	ctx := context.Background()
	_, _ = s.Add(ctx, domain.TaskDraft{Title: "w", Categories: []string{"Work"}})
	_, _ = s.Add(ctx, domain.TaskDraft{Title: "h", Categories: []string{"Home"}})
	_, _ = s.Add(ctx, domain.TaskDraft{Title: "p", Categories: []string{"Personal"}})

	v := s.SetFilterMode(domain.FilterMode("category_Work_Home"))
	got := map[string]bool{}
	for _, task := range v.Tasks {
		got[task.Title] = true
	}
	if len(got) != 2 || !got["w"] || !got["h"] {
		t.Fatalf("category view = %v", titles(v.Tasks))
	}
}

func TestSearchNarrowsLast(t *testing.T) {
	s := newTaskStore(t, storage.NewMemory(), time.Now())
	ctx := context.Background()
	a, _ := s.Add(ctx, domain.TaskDraft{Title: "Write report", Priority: domain.PriorityHigh})
	_, _ = s.Add(ctx, domain.TaskDraft{Title: "Read", Description: "the REPORT", Priority: domain.PriorityLow})
	_, _ = s.Add(ctx, domain.TaskDraft{Title: "Gym", Categories: []string{"Health/Fitness"}})
	_, _ = s.ToggleCompleted(ctx, a.ID)

	s.SetSearchQuery("report")
	if got := titles(s.View().Tasks); len(got) != 2 {
		t.Fatalf("search view = %v", got)
	}
	s.SetFilterMode(domain.FilterCompleted)
	if got := titles(s.View().Tasks); len(got) != 1 || got[0] != "Write report" {
		t.Fatalf("completed+search view = %v", got)
	}
	s.SetFilterMode(domain.FilterAll)
	s.SetSortMode(domain.SortLowPriority)
	if got := titles(s.View().Tasks); len(got) != 1 || got[0] != "Read" {
		t.Fatalf("low priority view = %v", got)
	}
	s.SetSortMode(domain.SortCustom)
	if v := s.SetSearchQuery("   "); len(v.Tasks) != 3 {
		t.Fatalf("blank query should not filter, got %v", titles(v.Tasks))
	}
	s.SetSearchQuery("fitness")
	if v := s.ClearSearch(); v.Query != "" || len(v.Tasks) != 3 {
		t.Fatalf("clear search = %+v", v)
	}
}

func TestUnknownModesFallBack(t *testing.T) {
	s := newTaskStore(t, storage.NewMemory(), time.Now())
	if v := s.SetFilterMode("bogus"); v.Filter != domain.FilterAll {
		t.Fatalf("filter = %q", v.Filter)
	}
	if v := s.SetSortMode("bogus"); v.Sort != domain.SortCustom {
		t.Fatalf("sort = %q", v.Sort)
	}
}

func TestNotFoundIsConsistentAndSilent(t *testing.T) {
	kv := newSpyKV()
	s := newTaskStore(t, kv, time.Now())
	ctx := context.Background()
	_, _ = s.Add(ctx, domain.TaskDraft{Title: "only"})
	writes := kv.writes()
	before := s.View()

	title := "x"
	ops := map[string]func() error{
		"update":          func() error { _, err := s.Update(ctx, "nope", domain.TaskPatch{Title: &title}); return err },
		"delete":          func() error { return s.Delete(ctx, "nope") },
		"toggleCompleted": func() error { _, err := s.ToggleCompleted(ctx, "nope"); return err },
		"togglePinned":    func() error { _, err := s.TogglePinned(ctx, "nope"); return err },
		"addCategory":     func() error { _, err := s.AddCategory(ctx, "nope", "Work"); return err },
		"removeCategory":  func() error { _, err := s.RemoveCategory(ctx, "nope", "Work"); return err },
		"get":             func() error { _, err := s.Get("nope"); return err },
	}
	for name, op := range ops {
		err := op()
		if !errors.Is(err, ErrTaskNotFound) || Kind(err) != KindNotFound {
			t.Fatalf("%s: expected not found, got %v", name, err)
		}
	}
	if kv.writes() != writes {
		t.Fatalf("not-found operations must not persist")
	}
	if got := s.View(); len(got.Tasks) != len(before.Tasks) || got.Tasks[0].Title != "only" {
		t.Fatalf("view changed: %+v", got)
	}
}

func TestCategoryCap(t *testing.T) {
	s := newTaskStore(t, storage.NewMemory(), time.Now())
	ctx := context.Background()
	task, _ := s.Add(ctx, domain.TaskDraft{Title: "busy"})

	for _, v := range []string{"Work", "Home", "Coding", "Work"} {
		if _, err := s.AddCategory(ctx, task.ID, v); err != nil {
			t.Fatalf("add %s: %v", v, err)
		}
	}
	got, err := s.AddCategory(ctx, task.ID, "Health/Fitness")
	if Kind(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(got.Categories) != domain.MaxCategories {
		t.Fatalf("categories = %v", got.Categories)
	}
	for _, task := range s.Tasks() {
		if len(task.Categories) > domain.MaxCategories {
			t.Fatalf("task %s over the cap: %v", task.ID, task.Categories)
		}
	}

	got, err = s.RemoveCategory(ctx, task.ID, "Home")
	if err != nil || strings.Join(got.Categories, ",") != "Work,Coding" {
		t.Fatalf("remove category = %v, %v", got.Categories, err)
	}
}

func TestUpdateKeepsIdentity(t *testing.T) {
	s := newTaskStore(t, storage.NewMemory(), time.Now())
	ctx := context.Background()
	task, _ := s.Add(ctx, domain.TaskDraft{Title: "a"})

	pinned := true
	title := "b"
	got, err := s.Update(ctx, task.ID, domain.TaskPatch{Title: &title, Pinned: &pinned})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.ID != task.ID || !got.CreatedAt.Equal(task.CreatedAt) || got.Title != "b" || !got.Pinned {
		t.Fatalf("unexpected update: %+v", got)
	}
	if got.Completed {
		t.Fatalf("pinned and completed are independent")
	}
}

func TestPersistFailureKeepsMutation(t *testing.T) {
	kv := newSpyKV()
	s := newTaskStore(t, kv, time.Now())
	ctx := context.Background()
	boom := errors.New("quota exceeded")
	kv.failFn = func(string) error { return boom }

	task, err := s.Add(ctx, domain.TaskDraft{Title: "ahead"})
	if Kind(err) != KindPersistence || !errors.Is(err, boom) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if _, err := s.Get(task.ID); err != nil {
		t.Fatalf("mutation should stay applied: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, storage.KeyTodos); ok {
		t.Fatalf("nothing should be persisted")
	}

	kv.failFn = nil
	if _, err := s.TogglePinned(ctx, task.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	tasks, _, _ := storage.NewPersistent(kv).LoadTasks(ctx)
	if len(tasks) != 1 || !tasks[0].Pinned {
		t.Fatalf("next write should catch up, got %+v", tasks)
	}
}

func TestViewIsPushedToSubscribers(t *testing.T) {
	s := newTaskStore(t, storage.NewMemory(), time.Now())
	ch, unsub := s.Subscribe(8)
	defer unsub()

	_, _ = s.Add(context.Background(), domain.TaskDraft{Title: "pushed"})
	select {
	case v := <-ch:
		if len(v.Tasks) != 1 || v.Tasks[0].Title != "pushed" {
			t.Fatalf("unexpected view %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("no view pushed")
	}

	s.SetSearchQuery("zzz")
	select {
	case v := <-ch:
		if v.Query != "zzz" || len(v.Tasks) != 0 {
			t.Fatalf("unexpected view %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("no view pushed for query change")
	}
}

func TestLoadTasks(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	_ = kv.Set(ctx, storage.KeyTodos, `[{"id":"old","title":"Persisted","createdAt":"2030-01-01T00:00:00Z"}]`)

	s := newTaskStore(t, kv, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := s.Get("old")
	if err != nil || got.Pinned || got.Categories == nil {
		t.Fatalf("loaded task = %+v, %v", got, err)
	}
	added, _ := s.Add(ctx, domain.TaskDraft{Title: "new"})
	if !added.CreatedAt.After(got.CreatedAt) {
		t.Fatalf("new task must be newer than loaded ones: %v <= %v", added.CreatedAt, got.CreatedAt)
	}

	_ = kv.Set(ctx, storage.KeyTodos, "garbage")
	err = s.Load(ctx)
	var derr *storage.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if len(s.Tasks()) != 0 {
		t.Fatalf("malformed text should leave an empty set")
	}
}

func TestViewIsDeterministic(t *testing.T) {
	s := newTaskStore(t, storage.NewMemory(), time.Now())
	ctx := context.Background()
	for _, title := range []string{"c", "a", "b", "a"} {
		_, _ = s.Add(ctx, domain.TaskDraft{Title: title, Priority: domain.PriorityHigh})
	}
	s.SetSortMode(domain.SortPriority)
	first := s.View()
	second := s.Refresh()
	if strings.Join(titles(first.Tasks), ",") != strings.Join(titles(second.Tasks), ",") {
		t.Fatalf("view not stable: %v vs %v", titles(first.Tasks), titles(second.Tasks))
	}
	for i := range first.Tasks {
		if first.Tasks[i].ID != second.Tasks[i].ID {
			t.Fatalf("order differs at %d", i)
		}
	}
}
