package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Limits enforced at the edit boundary. The stores themselves only cap categories.
const (
	MaxTitleLength       = 40
	MaxDescriptionLength = 350
	MaxCategories        = 3
)

// ValidationError reports a draft field the edit form would refuse.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidateTaskDraft applies the checks the add and edit forms run before calling the store.
func ValidateTaskDraft(d TaskDraft) error {
	if strings.TrimSpace(d.Title) == "" {
		return &ValidationError{Field: "title", Reason: "please enter a task title"}
	}
	if utf8.RuneCountInString(d.Title) > MaxTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", MaxTitleLength)}
	}
	if utf8.RuneCountInString(d.Description) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", MaxDescriptionLength)}
	}
	if len(d.Categories) > MaxCategories {
		return &ValidationError{Field: "categories", Reason: fmt.Sprintf("you can only select up to %d categories per task", MaxCategories)}
	}
	if d.StartDate != nil && d.EndDate != nil && d.EndDate.Before(*d.StartDate) {
		return &ValidationError{Field: "endDate", Reason: "must not be before the start date"}
	}
	return nil
}

// ValidateTaskPatch runs the edit form checks on the fields p changes, with the
// date order checked against the dates t would end up with.
func ValidateTaskPatch(t Task, p TaskPatch) error {
	d := TaskDraft{Title: DefaultTaskTitle}
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Categories != nil {
		d.Categories = *p.Categories
	}
	if p.StartDate != nil || p.EndDate != nil || p.ClearStartDate || p.ClearEndDate {
		merged := t.Clone()
		p.Apply(&merged)
		d.StartDate, d.EndDate = merged.StartDate, merged.EndDate
	}
	return ValidateTaskDraft(d)
}

// TruncateDraft cuts title and description to their limits the way the form input does.
func TruncateDraft(d TaskDraft) TaskDraft {
	d.Title = truncateRunes(d.Title, MaxTitleLength)
	d.Description = truncateRunes(d.Description, MaxDescriptionLength)
	return d
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
