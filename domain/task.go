package domain

import (
	"strings"
	"time"
)

// Priority is the urgency level of a task.
type Priority string

const (
	PriorityUnset  Priority = ""
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

const (
	DefaultTaskTitle = "Untitled Task"
	DefaultEmoji     = "📝"
	DefaultColor     = "rgb(131, 92, 240)"
)

// Rank orders priorities for the priority sort; unset and unknown values rank lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Known reports whether p is one of low, medium or high.
func (p Priority) Known() bool {
	return p.Rank() > 0
}

// Task represents a single to-do item.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Categories  []string   `json:"categories"`
	Priority    Priority   `json:"priority"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
	Completed   bool       `json:"completed"`
	Pinned      bool       `json:"pinned"`
	Emoji       string     `json:"emoji"`
	Color       string     `json:"color"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Clone returns a copy of t that shares no mutable state with it.
func (t Task) Clone() Task {
	out := t
	if t.Categories != nil {
		out.Categories = append([]string(nil), t.Categories...)
	}
	if t.StartDate != nil {
		d := *t.StartDate
		out.StartDate = &d
	}
	if t.EndDate != nil {
		d := *t.EndDate
		out.EndDate = &d
	}
	return out
}

// HasCategory reports whether value is one of the task's categories.
func (t Task) HasCategory(value string) bool {
	for _, c := range t.Categories {
		if c == value {
			return true
		}
	}
	return false
}

// Overdue reports whether the task has an end date before now and is still open.
func (t Task) Overdue(now time.Time) bool {
	return t.EndDate != nil && t.EndDate.Before(now) && !t.Completed
}

// TaskDraft carries the user supplied fields of a new task. Every field is optional.
type TaskDraft struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Categories  []string   `json:"categories"`
	Priority    Priority   `json:"priority"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
	Completed   bool       `json:"completed"`
	Pinned      bool       `json:"pinned"`
	Emoji       string     `json:"emoji"`
	Color       string     `json:"color"`
}

// NewTask builds a task from d, filling every missing or unusable field with its default.
func NewTask(id string, createdAt time.Time, d TaskDraft) Task {
	t := Task{
		ID:          id,
		Title:       strings.TrimSpace(d.Title),
		Description: d.Description,
		Categories:  CapCategories(d.Categories),
		Priority:    d.Priority,
		StartDate:   utcPtr(d.StartDate),
		EndDate:     utcPtr(d.EndDate),
		Completed:   d.Completed,
		Pinned:      d.Pinned,
		Emoji:       d.Emoji,
		Color:       d.Color,
		CreatedAt:   createdAt.UTC(),
	}
	if t.Title == "" {
		t.Title = DefaultTaskTitle
	}
	if !t.Priority.Known() {
		t.Priority = PriorityMedium
	}
	if strings.TrimSpace(t.Emoji) == "" {
		t.Emoji = DefaultEmoji
	}
	if strings.TrimSpace(t.Color) == "" {
		t.Color = DefaultColor
	}
	return t
}

// TaskPatch carries partial updates for a task. Nil fields are left untouched.
type TaskPatch struct {
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Categories     *[]string  `json:"categories,omitempty"`
	Priority       *Priority  `json:"priority,omitempty"`
	StartDate      *time.Time `json:"startDate,omitempty"`
	EndDate        *time.Time `json:"endDate,omitempty"`
	ClearStartDate bool       `json:"clearStartDate,omitempty"`
	ClearEndDate   bool       `json:"clearEndDate,omitempty"`
	Completed      *bool      `json:"completed,omitempty"`
	Pinned         *bool      `json:"pinned,omitempty"`
	Emoji          *string    `json:"emoji,omitempty"`
	Color          *string    `json:"color,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Categories == nil && p.Priority == nil &&
		p.StartDate == nil && p.EndDate == nil && !p.ClearStartDate && !p.ClearEndDate &&
		p.Completed == nil && p.Pinned == nil && p.Emoji == nil && p.Color == nil
}

// Apply merges p into t. ID and CreatedAt are never modified.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Categories != nil {
		t.Categories = CapCategories(*p.Categories)
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
		if !t.Priority.Known() {
			t.Priority = PriorityMedium
		}
	}
	if p.ClearStartDate {
		t.StartDate = nil
	}
	if p.StartDate != nil {
		t.StartDate = utcPtr(p.StartDate)
	}
	if p.ClearEndDate {
		t.EndDate = nil
	}
	if p.EndDate != nil {
		t.EndDate = utcPtr(p.EndDate)
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Pinned != nil {
		t.Pinned = *p.Pinned
	}
	if p.Emoji != nil {
		t.Emoji = *p.Emoji
	}
	if p.Color != nil {
		t.Color = *p.Color
	}
}

// CapCategories drops empty and duplicate values and keeps at most MaxCategories members.
func CapCategories(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		if len(out) == MaxCategories {
			break
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
