package domain

import "strings"

const (
	DefaultCategoryLabel = "📝"
	DefaultCategoryValue = "New Category"
	DefaultCategoryColor = "rgb(131,92,240)"

	// Value given to persisted categories that lost their name.
	UnknownCategoryValue = "Unknow"
	// Label shown for task categories that no longer exist.
	DanglingCategoryLabel = "🏷️"
)

// Category groups tasks. Value is the name tasks refer to.
type Category struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Value      string `json:"value"`
	Color      string `json:"color"`
	IsFavorite bool   `json:"isFavorite"`
}

// CategoryDraft carries the fields of a new category. Every field is optional.
type CategoryDraft struct {
	Label      string `json:"label"`
	Value      string `json:"value"`
	Color      string `json:"color"`
	IsFavorite bool   `json:"isFavorite"`
}

// NewCategory builds a category from d with defaults for missing fields.
func NewCategory(id string, d CategoryDraft) Category {
	c := Category{
		ID:         id,
		Label:      d.Label,
		Value:      strings.TrimSpace(d.Value),
		Color:      d.Color,
		IsFavorite: d.IsFavorite,
	}
	if c.Label == "" {
		c.Label = DefaultCategoryLabel
	}
	if c.Value == "" {
		c.Value = DefaultCategoryValue
	}
	if c.Color == "" {
		c.Color = DefaultCategoryColor
	}
	return c
}

// CategoryPatch carries partial updates for a category.
type CategoryPatch struct {
	Label      *string `json:"label,omitempty"`
	Value      *string `json:"value,omitempty"`
	Color      *string `json:"color,omitempty"`
	IsFavorite *bool   `json:"isFavorite,omitempty"`
}

// Apply merges p into c. ID is never modified.
func (p CategoryPatch) Apply(c *Category) {
	if p.Label != nil {
		c.Label = *p.Label
	}
	if p.Value != nil {
		c.Value = *p.Value
	}
	if p.Color != nil {
		c.Color = *p.Color
	}
	if p.IsFavorite != nil {
		c.IsFavorite = *p.IsFavorite
	}
}

// Repair fills fields lost from a persisted category. newID is only called when the id is missing.
func (c Category) Repair(newID func() string) Category {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.Label == "" {
		c.Label = DefaultCategoryLabel
	}
	if c.Value == "" {
		c.Value = UnknownCategoryValue
	}
	if c.Color == "" {
		c.Color = DefaultCategoryColor
	}
	return c
}

// DanglingCategory is what consumers render for a task category that no longer exists.
func DanglingCategory(value string) Category {
	return Category{Label: DanglingCategoryLabel, Value: value, Color: DefaultCategoryColor}
}

// DefaultCategories returns the seed set used on first run and on reset.
func DefaultCategories() []Category {
	return []Category{
		{ID: "default-coding", Label: "💻", Value: "Coding", Color: "rgb(131,92,240)"},
		{ID: "default-work", Label: "🏢", Value: "Work", Color: "rgb(36,142,255)"},
		{ID: "default-education", Label: "📚", Value: "Education", Color: "rgb(255,158,66)"},
		{ID: "default-home", Label: "🏡", Value: "Home", Color: "rgb(83,228,93)"},
		{ID: "default-personal", Label: "🧔🏻", Value: "Personal", Color: "rgb(240,134,254)"},
		{ID: "default-health", Label: "💪", Value: "Health/Fitness", Color: "rgb(254,229,103)"},
	}
}

// Progress counts the tasks tagged with one category.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

// Percent returns the completed share in the range 0..100.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return p.Completed * 100 / p.Total
}

// CategoryProgress counts tasks referencing value and how many of them are completed.
func CategoryProgress(tasks []Task, value string) Progress {
	var p Progress
	for _, t := range tasks {
		if !t.HasCategory(value) {
			continue
		}
		p.Total++
		if t.Completed {
			p.Completed++
		}
	}
	return p
}
