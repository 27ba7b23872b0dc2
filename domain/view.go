package domain

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// ViewOptions are the inputs of the derived view besides the task set.
type ViewOptions struct {
	Query  string
	Filter FilterMode
	Sort   SortMode
	// Now is the reference instant for the overdue filter.
	Now time.Time
}

// BuildView computes the filtered and sorted projection of tasks. It is a pure
// function of its inputs: tasks is not modified and equal inputs give equal output.
//
// Steps run in a fixed order: filter mode, the priority restriction of a
// *_priority sort mode, the sort comparator, and finally the search query.
func BuildView(tasks []Task, opts ViewOptions) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if matchesFilter(t, opts.Filter, opts.Now) {
			out = append(out, t.Clone())
		}
	}

	if p, ok := opts.Sort.PriorityFilter(); ok {
		out = keep(out, func(t Task) bool { return t.Priority == p })
	}

	sortTasks(out, opts.Sort)

	if q := normalizeQuery(opts.Query); q != "" {
		out = keep(out, func(t Task) bool { return matchesQuery(t, q) })
	}
	return out
}

func matchesFilter(t Task, f FilterMode, now time.Time) bool {
	switch f {
	case FilterCompleted:
		return t.Completed
	case FilterPending:
		return !t.Completed
	case FilterPinned:
		return t.Pinned
	case FilterOverdue:
		return t.Overdue(now)
	case FilterHighPriority:
		return t.Priority == PriorityHigh
	case FilterMediumPriority:
		return t.Priority == PriorityMedium
	case FilterLowPriority:
		return t.Priority == PriorityLow
	}
	if values := f.Categories(); values != nil {
		if t.HasCategory(f.categoryText()) {
			return true
		}
		for _, v := range values {
			if t.HasCategory(v) {
				return true
			}
		}
		return false
	}
	return true
}

func sortTasks(tasks []Task, mode SortMode) {
	switch mode {
	case SortAlphabetical:
		c := collate.New(language.English)
		sort.SliceStable(tasks, func(i, j int) bool {
			return c.CompareString(tasks[i].Title, tasks[j].Title) < 0
		})
	case SortDueDate:
		sort.SliceStable(tasks, func(i, j int) bool {
			a, b := tasks[i].EndDate, tasks[j].EndDate
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			}
			return a.Before(*b)
		})
	case SortDateCreated:
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		})
	case SortPriority:
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].Priority.Rank() > tasks[j].Priority.Rank()
		})
	case SortStatus:
		sort.SliceStable(tasks, func(i, j int) bool {
			return !tasks[i].Completed && tasks[j].Completed
		})
	default:
		// custom, and the *_priority modes which only filter
		sort.SliceStable(tasks, func(i, j int) bool {
			a, b := tasks[i], tasks[j]
			if a.Pinned != b.Pinned {
				return a.Pinned
			}
			return a.CreatedAt.After(b.CreatedAt)
		})
	}
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

func matchesQuery(t Task, q string) bool {
	if strings.Contains(strings.ToLower(t.Title), q) {
		return true
	}
	if strings.Contains(strings.ToLower(t.Description), q) {
		return true
	}
	for _, c := range t.Categories {
		if strings.Contains(strings.ToLower(c), q) {
			return true
		}
	}
	return false
}

func keep(tasks []Task, pred func(Task) bool) []Task {
	out := tasks[:0]
	for _, t := range tasks {
		if pred(t) {
			out = append(out, t)
		}
	}
	return out
}
