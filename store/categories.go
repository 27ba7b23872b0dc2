package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"prism-todo/domain"
	"prism-todo/storage"
)

// CategoryStore owns the category collection.
type CategoryStore struct {
	mu      sync.Mutex
	persist *storage.Persistent
	newID   func() string
	cats    []domain.Category
}

// NewCategoryStore creates a store holding the seed categories. Call Load to
// read persisted ones.
func NewCategoryStore(p *storage.Persistent) *CategoryStore {
	return &CategoryStore{persist: p, newID: uuid.NewString, cats: domain.DefaultCategories()}
}

// Load reads persisted categories and repairs missing fields. With nothing
// persisted the seed set is written. Malformed text falls back to the seed set
// and returns the *storage.DecodeError.
func (s *CategoryStore) Load(ctx context.Context) error {
	cats, found, err := s.persist.LoadCategories(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.cats = domain.DefaultCategories()
		return err
	}
	if !found {
		s.cats = domain.DefaultCategories()
		return s.saveLocked(ctx)
	}
	for i := range cats {
		cats[i] = cats[i].Repair(s.newID)
	}
	s.cats = cats
	return nil
}

// Add creates a category from d. Duplicate values are not rejected; callers check Exists.
func (s *CategoryStore) Add(ctx context.Context, d domain.CategoryDraft) (domain.Category, error) {
	c := domain.NewCategory(s.newID(), d)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cats = append(s.cats, c)
	return c, s.saveLocked(ctx)
}

func (s *CategoryStore) Edit(ctx context.Context, id string, p domain.CategoryPatch) (domain.Category, error) {
	return s.mutate(ctx, id, p.Apply)
}

func (s *CategoryStore) ToggleFavorite(ctx context.Context, id string) (domain.Category, error) {
	return s.mutate(ctx, id, func(c *domain.Category) { c.IsFavorite = !c.IsFavorite })
}

// Delete removes the category. Tasks referring to it keep the reference.
func (s *CategoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrCategoryNotFound
	}
	s.cats = append(s.cats[:idx], s.cats[idx+1:]...)
	return s.saveLocked(ctx)
}

// ResetToDefaults replaces every category with the seed set.
func (s *CategoryStore) ResetToDefaults(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cats = domain.DefaultCategories()
	return s.saveLocked(ctx)
}

func (s *CategoryStore) mutate(ctx context.Context, id string, fn func(*domain.Category)) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.Category{}, ErrCategoryNotFound
	}
	fn(&s.cats[idx])
	s.cats[idx].ID = id
	return s.cats[idx], s.saveLocked(ctx)
}

// Exists reports whether a category with exactly this value exists.
func (s *CategoryStore) Exists(value string) bool {
	_, ok := s.ByValue(value)
	return ok
}

func (s *CategoryStore) Get(id string) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.Category{}, ErrCategoryNotFound
	}
	return s.cats[idx], nil
}

func (s *CategoryStore) ByValue(value string) (domain.Category, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cats {
		if c.Value == value {
			return c, true
		}
	}
	return domain.Category{}, false
}

// Resolve returns the category named value, or a placeholder for a dangling task reference.
func (s *CategoryStore) Resolve(value string) domain.Category {
	if c, ok := s.ByValue(value); ok {
		return c
	}
	return domain.DanglingCategory(value)
}

func (s *CategoryStore) List() []domain.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Category(nil), s.cats...)
}

func (s *CategoryStore) Favorites() []domain.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Category
	for _, c := range s.cats {
		if c.IsFavorite {
			out = append(out, c)
		}
	}
	return out
}

func (s *CategoryStore) indexLocked(id string) int {
	for i := range s.cats {
		if s.cats[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *CategoryStore) saveLocked(ctx context.Context) error {
	if err := s.persist.SaveCategories(ctx, s.cats); err != nil {
		return &PersistError{Key: storage.KeyCategories, Err: err}
	}
	return nil
}
