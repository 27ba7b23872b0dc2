package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"prism-todo/domain"
)

func TestPersistentTasksRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewPersistent(NewMemory())

	if tasks, found, err := p.LoadTasks(ctx); err != nil || found || tasks != nil {
		t.Fatalf("empty store: %v %v %v", tasks, found, err)
	}

	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	in := []domain.Task{domain.NewTask("t1", created, domain.TaskDraft{Title: "Buy milk", Categories: []string{"Home"}})}
	if err := p.SaveTasks(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, found, err := p.LoadTasks(ctx)
	if err != nil || !found {
		t.Fatalf("load: %v %v", found, err)
	}
	if len(out) != 1 || out[0].ID != "t1" || !out[0].CreatedAt.Equal(created) || !out[0].HasCategory("Home") {
		t.Fatalf("unexpected tasks: %+v", out)
	}

	if err := p.SaveTasks(ctx, nil); err != nil {
		t.Fatalf("save nil: %v", err)
	}
	if raw, _, _ := p.KV().Get(ctx, KeyTodos); raw != "[]" {
		t.Fatalf("nil task set should persist as [], got %q", raw)
	}
}

func TestPersistentMalformedText(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	_ = kv.Set(ctx, KeyCategories, "{not json")
	p := NewPersistent(kv)

	cats, found, err := p.LoadCategories(ctx)
	var derr *DecodeError
	if !errors.As(err, &derr) || derr.Key != KeyCategories {
		t.Fatalf("expected decode error, got %v", err)
	}
	if !found || cats != nil {
		t.Fatalf("malformed value: found=%v cats=%v", found, cats)
	}
}

func TestPersistentMissingFieldsDecode(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	_ = kv.Set(ctx, KeyTodos, `[{"id":"a","title":"old","completed":true}]`)

	tasks, _, err := NewPersistent(kv).LoadTasks(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Pinned || !tasks[0].Completed {
		t.Fatalf("unexpected decode: %+v", tasks)
	}
}

func TestPersistentPreferences(t *testing.T) {
	ctx := context.Background()
	p := NewPersistent(NewMemory())

	prefs, err := p.LoadPreferences(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if f, s := prefs.Modes(); f != domain.FilterAll || s != domain.SortAlphabetical {
		t.Fatalf("default modes = %q %q", f, s)
	}

	if err := p.SaveFilterLabel(ctx, "Pinned"); err != nil {
		t.Fatalf("save filter: %v", err)
	}
	if err := p.SaveSortLabel(ctx, "Low"); err != nil {
		t.Fatalf("save sort: %v", err)
	}
	prefs, _ = p.LoadPreferences(ctx)
	if f, s := prefs.Modes(); f != domain.FilterPinned || s != domain.SortLowPriority {
		t.Fatalf("restored modes = %q %q", f, s)
	}

	if f, s := (Preferences{FilterLabel: "Bogus", SortLabel: "Bogus"}).Modes(); f != domain.FilterAll || s != domain.SortAlphabetical {
		t.Fatalf("unknown labels should fall back to defaults, got %q %q", f, s)
	}
}

func TestPersistentUsername(t *testing.T) {
	ctx := context.Background()
	p := NewPersistent(NewMemory())

	if err := p.SaveUsername(ctx, "  Grace  "); err != nil {
		t.Fatalf("save: %v", err)
	}
	if name, _ := p.Username(ctx); name != "Grace" {
		t.Fatalf("username = %q", name)
	}
	if err := p.SaveUsername(ctx, "   "); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := p.KV().Get(ctx, KeyUsername); ok {
		t.Fatalf("blank username should remove the key")
	}
}

func TestPersistentDraft(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	p := NewPersistent(kv)

	d, found, err := p.LoadDraft(ctx)
	if err != nil || found {
		t.Fatalf("empty draft: %v %v", found, err)
	}
	if d.Emoji != domain.DefaultEmoji || d.Color != domain.DefaultColor {
		t.Fatalf("draft defaults = %+v", d)
	}

	want := Draft{Form: domain.TaskDraft{Title: "half typed"}, Emoji: "🚀", Color: "#248eff"}
	if err := p.SaveDraft(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := p.LoadDraft(ctx)
	if err != nil || !found || got.Form.Title != "half typed" || got.Emoji != "🚀" || got.Color != "#248eff" {
		t.Fatalf("loaded draft = %+v %v %v", got, found, err)
	}

	if err := p.ClearDraft(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	for _, key := range []string{KeyDraftForm, KeyDraftEmoji, KeyDraftColor} {
		if _, ok, _ := kv.Get(ctx, key); ok {
			t.Fatalf("%s not cleared", key)
		}
	}
}
