package keyword

import (
	"errors"
	"fmt"

	"localrank/internal/model"
)

type Filter string

const (
	FilterAll          Filter = "all"
	FilterHighPriority Filter = "high-priority"
	FilterEasy         Filter = "easy"
	FilterHighIntent   Filter = "high-intent"
)

// HighPriorityThreshold is the lowest priority kept by the high-priority filter.
const HighPriorityThreshold = 7

var ErrUnknownFilter = errors.New("unknown keyword filter")

func ParseFilter(name string) (Filter, error) {
	switch f := Filter(name); f {
	case FilterAll, FilterHighPriority, FilterEasy, FilterHighIntent:
		return f, nil
	case "":
		return FilterAll, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownFilter, name)
	}
}

func (f Filter) Match(kw model.Keyword) bool {
	switch f {
	case FilterHighPriority:
		return kw.Priority >= HighPriorityThreshold
	case FilterEasy:
		return kw.Difficulty == model.DifficultyEasy
	case FilterHighIntent:
		return kw.CommercialIntent == model.IntentHigh
	default:
		return true
	}
}

// Apply returns the matching keywords in their original order. The input is
// never modified.
func (f Filter) Apply(kws []model.Keyword) []model.Keyword {
	out := make([]model.Keyword, 0, len(kws))
	for _, kw := range kws {
		if f.Match(kw) {
			out = append(out, kw)
		}
	}
	return out
}
