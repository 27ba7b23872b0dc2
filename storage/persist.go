package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"prism-todo/domain"
)

// DecodeError reports persisted text under Key that could not be parsed.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Persistent reads and writes the application state kept in a KV.
// Collections are stored as JSON arrays, labels and plain text as is.
type Persistent struct {
	kv KV
}

func NewPersistent(kv KV) *Persistent {
	if kv == nil {
		panic("storage.NewPersistent: kv is nil")
	}
	return &Persistent{kv: kv}
}

// KV returns the underlying store.
func (p *Persistent) KV() KV { return p.kv }

func loadJSON[T any](ctx context.Context, kv KV, key string) (T, bool, error) {
	var out T
	raw, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := sonic.UnmarshalString(raw, &out); err != nil {
		var zero T
		return zero, true, &DecodeError{Key: key, Err: err}
	}
	return out, true, nil
}

func saveJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := sonic.MarshalString(v)
	if err != nil {
		return err
	}
	return kv.Set(ctx, key, raw)
}

// LoadTasks returns the persisted tasks and whether the key existed.
func (p *Persistent) LoadTasks(ctx context.Context) ([]domain.Task, bool, error) {
	return loadJSON[[]domain.Task](ctx, p.kv, KeyTodos)
}

func (p *Persistent) SaveTasks(ctx context.Context, tasks []domain.Task) error {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return saveJSON(ctx, p.kv, KeyTodos, tasks)
}

// LoadCategories returns the persisted categories and whether the key existed.
func (p *Persistent) LoadCategories(ctx context.Context) ([]domain.Category, bool, error) {
	return loadJSON[[]domain.Category](ctx, p.kv, KeyCategories)
}

func (p *Persistent) SaveCategories(ctx context.Context, cats []domain.Category) error {
	if cats == nil {
		cats = []domain.Category{}
	}
	return saveJSON(ctx, p.kv, KeyCategories, cats)
}

// Preferences are the last chosen filter and sort options, as display labels.
type Preferences struct {
	FilterLabel string `json:"filter"`
	SortLabel   string `json:"sort"`
}

// Modes resolves the labels to view modes. Unknown labels give the defaults.
func (p Preferences) Modes() (domain.FilterMode, domain.SortMode) {
	f, ok := domain.FilterForLabel(p.FilterLabel)
	if !ok {
		f, _ = domain.FilterForLabel(domain.DefaultFilterLabel)
	}
	s, ok := domain.SortForLabel(p.SortLabel)
	if !ok {
		s, _ = domain.SortForLabel(domain.DefaultSortLabel)
	}
	return f, s
}

func (p *Persistent) LoadPreferences(ctx context.Context) (Preferences, error) {
	prefs := Preferences{FilterLabel: domain.DefaultFilterLabel, SortLabel: domain.DefaultSortLabel}
	if v, ok, err := p.kv.Get(ctx, KeySelectedFilter); err != nil {
		return prefs, err
	} else if ok && v != "" {
		prefs.FilterLabel = v
	}
	if v, ok, err := p.kv.Get(ctx, KeySelectedSort); err != nil {
		return prefs, err
	} else if ok && v != "" {
		prefs.SortLabel = v
	}
	return prefs, nil
}

func (p *Persistent) SaveFilterLabel(ctx context.Context, label string) error {
	return p.kv.Set(ctx, KeySelectedFilter, label)
}

func (p *Persistent) SaveSortLabel(ctx context.Context, label string) error {
	return p.kv.Set(ctx, KeySelectedSort, label)
}

func (p *Persistent) Username(ctx context.Context) (string, error) {
	v, _, err := p.kv.Get(ctx, KeyUsername)
	return v, err
}

// SaveUsername stores the trimmed name. A blank name removes the key.
func (p *Persistent) SaveUsername(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return p.kv.Remove(ctx, KeyUsername)
	}
	return p.kv.Set(ctx, KeyUsername, name)
}

// Draft is an in-progress add-task form.
type Draft struct {
	Form  domain.TaskDraft `json:"form"`
	Emoji string           `json:"emoji"`
	Color string           `json:"color"`
}

// LoadDraft returns the saved draft. Missing parts get the task defaults.
func (p *Persistent) LoadDraft(ctx context.Context) (Draft, bool, error) {
	d := Draft{Emoji: domain.DefaultEmoji, Color: domain.DefaultColor}
	form, found, err := loadJSON[domain.TaskDraft](ctx, p.kv, KeyDraftForm)
	if err != nil {
		return d, found, err
	}
	d.Form = form
	for key, dst := range map[string]*string{KeyDraftEmoji: &d.Emoji, KeyDraftColor: &d.Color} {
		v, ok, err := p.kv.Get(ctx, key)
		if err != nil {
			return d, found, err
		}
		if ok && v != "" {
			*dst = v
			found = true
		}
	}
	return d, found, nil
}

func (p *Persistent) SaveDraft(ctx context.Context, d Draft) error {
	if err := saveJSON(ctx, p.kv, KeyDraftForm, d.Form); err != nil {
		return err
	}
	if err := p.kv.Set(ctx, KeyDraftEmoji, d.Emoji); err != nil {
		return err
	}
	return p.kv.Set(ctx, KeyDraftColor, d.Color)
}

// ClearDraft removes every draft key.
func (p *Persistent) ClearDraft(ctx context.Context) error {
	for _, key := range []string{KeyDraftForm, KeyDraftEmoji, KeyDraftColor} {
		if err := p.kv.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
