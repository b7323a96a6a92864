package domain

import "fmt"

// FilterMode selects which tasks a view shows.
type FilterMode int

const (
	FilterAll FilterMode = iota
	FilterCompleted
	FilterOngoing
)

func (m FilterMode) String() string {
	switch m {
	case FilterAll:
		return "all"
	case FilterCompleted:
		return "completed"
	case FilterOngoing:
		return "ongoing"
	default:
		return "unknown"
	}
}

// ParseFilterMode maps the wire value of a filter to a FilterMode. The
// empty string means no filtering.
func ParseFilterMode(s string) (FilterMode, error) {
	switch s {
	case "", "all":
		return FilterAll, nil
	case "completed":
		return FilterCompleted, nil
	case "ongoing":
		return FilterOngoing, nil
	default:
		return FilterAll, fmt.Errorf("unknown filter %q", s)
	}
}

// Filter returns the subset of tasks matching mode, preserving order.
// FilterAll returns the input unchanged.
func Filter(tasks []Task, mode FilterMode) []Task {
	if mode == FilterAll {
		return tasks
	}
	want := mode == FilterCompleted
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Completed == want {
			out = append(out, t)
		}
	}
	return out
}
