package domain

import "strings"

// FilterMode selects the subset of tasks shown in the view.
type FilterMode string

const (
	FilterAll            FilterMode = "all"
	FilterCompleted      FilterMode = "completed"
	FilterPending        FilterMode = "pending"
	FilterPinned         FilterMode = "pinned"
	FilterOverdue        FilterMode = "overdue"
	FilterHighPriority   FilterMode = "high_priority"
	FilterMediumPriority FilterMode = "medium_priority"
	FilterLowPriority    FilterMode = "low_priority"

	categoryFilterPrefix = "category_"
	priorityModeSuffix   = "_priority"
)

// CategoryFilter builds a filter matching tasks tagged with any of values.
func CategoryFilter(values ...string) FilterMode {
	if len(values) == 0 {
		return FilterAll
	}
	return FilterMode(categoryFilterPrefix + strings.Join(values, "_"))
}

// Categories returns the category values of a category filter, or nil for any other mode.
func (f FilterMode) Categories() []string {
	rest, ok := strings.CutPrefix(string(f), categoryFilterPrefix)
	if !ok || rest == "" {
		return nil
	}
	return strings.Split(rest, "_")
}

// categoryText is everything after the category prefix, which may itself be a
// single value containing underscores.
func (f FilterMode) categoryText() string {
	return strings.TrimPrefix(string(f), categoryFilterPrefix)
}

// Known reports whether f is a filter the view understands.
func (f FilterMode) Known() bool {
	switch f {
	case FilterAll, FilterCompleted, FilterPending, FilterPinned, FilterOverdue,
		FilterHighPriority, FilterMediumPriority, FilterLowPriority:
		return true
	}
	return f.Categories() != nil
}

// ParseFilterMode returns the mode named by s, falling back to FilterAll.
func ParseFilterMode(s string) FilterMode {
	f := FilterMode(strings.TrimSpace(s))
	if !f.Known() {
		return FilterAll
	}
	return f
}

// SortMode orders the view. The *_priority modes also narrow it to one priority.
type SortMode string

const (
	SortCustom         SortMode = "custom"
	SortAlphabetical   SortMode = "alphabetical"
	SortDateCreated    SortMode = "dateCreated"
	SortDueDate        SortMode = "dueDate"
	SortPriority       SortMode = "priority"
	SortStatus         SortMode = "status"
	SortHighPriority   SortMode = "high_priority"
	SortMediumPriority SortMode = "medium_priority"
	SortLowPriority    SortMode = "low_priority"
)

// Known reports whether s is a sort mode the view understands.
func (s SortMode) Known() bool {
	switch s {
	case SortCustom, SortAlphabetical, SortDateCreated, SortDueDate, SortPriority, SortStatus,
		SortHighPriority, SortMediumPriority, SortLowPriority:
		return true
	}
	return false
}

// PriorityFilter returns the priority a *_priority sort mode restricts the view to.
func (s SortMode) PriorityFilter() (Priority, bool) {
	p, ok := strings.CutSuffix(string(s), priorityModeSuffix)
	if !ok || !s.Known() {
		return PriorityUnset, false
	}
	return Priority(p), true
}

// ParseSortMode returns the mode named by s, falling back to SortCustom.
func ParseSortMode(s string) SortMode {
	m := SortMode(strings.TrimSpace(s))
	if !m.Known() {
		return SortCustom
	}
	return m
}

const (
	DefaultFilterLabel = "All"
	DefaultSortLabel   = "Alphabetical"
)

// Display labels persisted for the last chosen filter and sort options.
var (
	filterLabels = []struct {
		label string
		mode  FilterMode
	}{
		{"All", FilterAll},
		{"Completed", FilterCompleted},
		{"Pinned", FilterPinned},
	}
	sortLabels = []struct {
		label string
		mode  SortMode
	}{
		{"Alphabetical", SortAlphabetical},
		{"Date Created", SortDateCreated},
		{"High", SortPriority},
		{"Medium", SortMediumPriority},
		{"Low", SortLowPriority},
	}
)

// FilterForLabel maps a persisted filter label back to its mode.
func FilterForLabel(label string) (FilterMode, bool) {
	for _, l := range filterLabels {
		if l.label == label {
			return l.mode, true
		}
	}
	return "", false
}

// FilterLabel returns the display label of f, if it has one.
func FilterLabel(f FilterMode) (string, bool) {
	for _, l := range filterLabels {
		if l.mode == f {
			return l.label, true
		}
	}
	return "", false
}

// SortForLabel maps a persisted sort label back to its mode.
func SortForLabel(label string) (SortMode, bool) {
	for _, l := range sortLabels {
		if l.label == label {
			return l.mode, true
		}
	}
	return "", false
}

// SortLabel returns the display label of s, if it has one.
func SortLabel(s SortMode) (string, bool) {
	for _, l := range sortLabels {
		if l.mode == s {
			return l.label, true
		}
	}
	return "", false
}
