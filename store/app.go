package store

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-todo/domain"
	"prism-todo/storage"
)

// App is the application state shared by the HTTP handlers and the CLI.
// It is created once at startup and closed on exit.
type App struct {
	Persist    *storage.Persistent
	Tasks      *TaskStore
	Categories *CategoryStore
	Clock      *Clock
}

// Options tune NewApp. The zero value is valid.
type Options struct {
	// Now overrides the wall clock.
	Now func() time.Time
}

// NewApp loads the persisted state from kv. Malformed persisted text is logged
// and replaced by the defaults; only storage read failures are returned.
func NewApp(ctx context.Context, kv storage.KV, opts Options) (*App, error) {
	p := storage.NewPersistent(kv)
	clock := NewClock(opts.Now)
	a := &App{
		Persist:    p,
		Tasks:      NewTaskStore(p, clock),
		Categories: NewCategoryStore(p),
		Clock:      clock,
	}

	if err := a.Tasks.Load(ctx); err != nil {
		if !isDecodeError(err) {
			return nil, err
		}
		log.WithError(err).Warn("persisted tasks unreadable, starting empty")
	}
	if err := a.Categories.Load(ctx); err != nil {
		switch {
		case isDecodeError(err):
			log.WithError(err).Warn("persisted categories unreadable, using defaults")
		case Kind(err) == KindPersistence:
			log.WithError(err).Warn("seed categories not persisted")
		default:
			return nil, err
		}
	}

	prefs, err := p.LoadPreferences(ctx)
	if err != nil {
		return nil, err
	}
	filter, sort := prefs.Modes()
	a.Tasks.SetFilterMode(filter)
	a.Tasks.SetSortMode(sort)
	return a, nil
}

func isDecodeError(err error) bool {
	var derr *storage.DecodeError
	return errors.As(err, &derr)
}

// Close ends view subscriptions.
func (a *App) Close() {
	a.Tasks.Close()
}

// SelectFilter applies the filter shown under label and remembers the label.
func (a *App) SelectFilter(ctx context.Context, label string) (View, error) {
	mode, ok := domain.FilterForLabel(label)
	if !ok {
		return a.Tasks.View(), &domain.ValidationError{Field: "filter", Reason: "unknown filter label " + label}
	}
	v := a.Tasks.SetFilterMode(mode)
	if err := a.Persist.SaveFilterLabel(ctx, label); err != nil {
		return v, &PersistError{Key: storage.KeySelectedFilter, Err: err}
	}
	return v, nil
}

// SelectSort applies the sort shown under label and remembers the label.
func (a *App) SelectSort(ctx context.Context, label string) (View, error) {
	mode, ok := domain.SortForLabel(label)
	if !ok {
		return a.Tasks.View(), &domain.ValidationError{Field: "sort", Reason: "unknown sort label " + label}
	}
	v := a.Tasks.SetSortMode(mode)
	if err := a.Persist.SaveSortLabel(ctx, label); err != nil {
		return v, &PersistError{Key: storage.KeySelectedSort, Err: err}
	}
	return v, nil
}

func (a *App) Preferences(ctx context.Context) (storage.Preferences, error) {
	return a.Persist.LoadPreferences(ctx)
}

func (a *App) Username(ctx context.Context) (string, error) {
	return a.Persist.Username(ctx)
}

func (a *App) SetUsername(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := a.Persist.SaveUsername(ctx, name); err != nil {
		return name, &PersistError{Key: storage.KeyUsername, Err: err}
	}
	return name, nil
}

func (a *App) Draft(ctx context.Context) (storage.Draft, bool, error) {
	return a.Persist.LoadDraft(ctx)
}

// SaveDraft stores the form, cutting title and description to their limits.
func (a *App) SaveDraft(ctx context.Context, d storage.Draft) (storage.Draft, error) {
	d.Form = domain.TruncateDraft(d.Form)
	if err := a.Persist.SaveDraft(ctx, d); err != nil {
		return d, &PersistError{Key: storage.KeyDraftForm, Err: err}
	}
	return d, nil
}

// DiscardDraft clears the form, as cancelling it does.
func (a *App) DiscardDraft(ctx context.Context) error {
	if err := a.Persist.ClearDraft(ctx); err != nil {
		return &PersistError{Key: storage.KeyDraftForm, Err: err}
	}
	return nil
}

// SubmitDraft validates the saved draft, adds it as a task and clears it.
func (a *App) SubmitDraft(ctx context.Context) (domain.Task, error) {
	d, _, err := a.Persist.LoadDraft(ctx)
	if err != nil && !isDecodeError(err) {
		return domain.Task{}, err
	}
	form := d.Form
	form.Emoji, form.Color = d.Emoji, d.Color
	if err := domain.ValidateTaskDraft(form); err != nil {
		return domain.Task{}, err
	}
	task, err := a.Tasks.Add(ctx, form)
	if err != nil {
		return task, err
	}
	return task, a.DiscardDraft(ctx)
}

// CategoryStats pairs a category with the progress of its tasks.
type CategoryStats struct {
	domain.Category
	Progress domain.Progress `json:"progress"`
	Percent  int             `json:"percent"`
}

// Stats returns the progress of every category, in category order.
func (a *App) Stats() []CategoryStats {
	tasks := a.Tasks.Tasks()
	cats := a.Categories.List()
	out := make([]CategoryStats, 0, len(cats))
	for _, c := range cats {
		p := domain.CategoryProgress(tasks, c.Value)
		out = append(out, CategoryStats{Category: c, Progress: p, Percent: p.Percent()})
	}
	return out
}
