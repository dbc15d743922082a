// Package phase models the six-stage engagement blueprint as an explicit
// state machine: a current phase plus a progress vector. All advancement
// rules live in State.Apply.
package phase

import (
	"errors"
	"fmt"
	"time"

	"localrank/internal/model"
)

type Number int

const (
	First Number = 1
	Last  Number = model.PhaseCount
)

func (n Number) Valid() bool {
	return n >= First && n <= Last
}

type Info struct {
	Number      Number `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

var blueprint = [model.PhaseCount]Info{
	{1, "Foundation", "Account setup and website launch"},
	{2, "Intelligence Gathering", "Competitor and market analysis"},
	{3, "Build Your Advantage", "Technical SEO and content creation"},
	{4, "Conversion Optimization", "Trust signals and lead capture"},
	{5, "Growth Acceleration", "Content marketing and expansion"},
	{6, "Domination", "Performance monitoring and improvement"},
}

func Lookup(n Number) (Info, bool) {
	if !n.Valid() {
		return Info{}, false
	}
	return blueprint[n-1], true
}

// All returns the blueprint in phase order.
func All() []Info {
	out := make([]Info, len(blueprint))
	copy(out, blueprint[:])
	return out
}

var (
	ErrInvalidPhase    = errors.New("phase must be between 1 and 6")
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
)

// Progress returns round(100*completed/total), rounding halves up.
// ok is false when the phase has no tasks.
func Progress(completed, total int) (pct int, ok bool) {
	if total <= 0 {
		return 0, false
	}
	if completed < 0 {
		completed = 0
	}
	if completed > total {
		completed = total
	}
	return (200*completed + total) / (2 * total), true
}

type State struct {
	Current     Number
	Progress    [model.PhaseCount]int
	CompletedAt *time.Time
}

// New is the state of a freshly created project.
func New() State {
	return State{Current: First}
}

func FromProject(p *model.Project) State {
	s := State{
		Current:  Number(p.CurrentPhase),
		Progress: p.PhaseProgress,
	}
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		s.CompletedAt = &at
	}
	return s
}

func (s State) ApplyTo(p *model.Project) {
	p.CurrentPhase = int(s.Current)
	p.PhaseProgress = s.Progress
	p.CompletedAt = s.CompletedAt
}

func (s State) Of(n Number) int {
	if !n.Valid() {
		return 0
	}
	return s.Progress[n-1]
}

type Transition struct {
	Phase        Number
	FromProgress int
	ToProgress   int
	From         Number
	To           Number
	// Deferred is true when Phase is not current yet: its progress stays 0
	// until the project reaches it.
	Deferred bool
	// Completed is true only on the call that finished the project.
	Completed bool
}

func (t Transition) Advanced() bool {
	return t.To > t.From
}

func (t Transition) Changed() bool {
	return t.FromProgress != t.ToProgress || t.Advanced() || t.Completed
}

// Apply records progress for phase n and advances the current phase while it
// sits at 100. Phases after the current one always hold 0; their progress is
// taken up by Settle once they become current. The current phase never moves
// backwards: lowering the progress of an earlier phase is recorded but does
// not reopen it. Once the last phase reaches 100 the project is completed at
// now; completion is terminal.
func (s *State) Apply(n Number, progress int, now time.Time) (Transition, error) {
	if !n.Valid() {
		return Transition{}, ErrInvalidPhase
	}
	if progress < 0 || progress > 100 {
		return Transition{}, ErrInvalidProgress
	}
	if !s.Current.Valid() {
		return Transition{}, fmt.Errorf("corrupt state: current phase %d", s.Current)
	}

	t := Transition{
		Phase:        n,
		FromProgress: s.Progress[n-1],
		ToProgress:   progress,
		From:         s.Current,
	}
	if n > s.Current {
		t.Deferred = true
		t.ToProgress = 0
	}
	s.Progress[n-1] = t.ToProgress

	for s.Current < Last && s.Progress[s.Current-1] == 100 {
		s.Current++
	}
	if s.Current == Last && s.Progress[Last-1] == 100 && s.CompletedAt == nil {
		at := now
		s.CompletedAt = &at
		t.Completed = true
	}
	t.To = s.Current
	return t, nil
}

// Counter reports the task counts of a phase.
type Counter func(n Number) (completed, total int, err error)

// Settle follows up an advancing transition: each phase that became current
// takes its progress from its tasks, which may advance the project again.
// A phase without tasks enters at 0.
func (s *State) Settle(t Transition, count Counter, now time.Time) (Transition, error) {
	for entered := t.Advanced(); entered; {
		cur := s.Current
		completed, total, err := count(cur)
		if err != nil {
			return t, err
		}
		pct, ok := Progress(completed, total)
		if !ok {
			break
		}
		next, err := s.Apply(cur, pct, now)
		if err != nil {
			return t, err
		}
		t.To = next.To
		t.Completed = t.Completed || next.Completed
		entered = next.Advanced()
	}
	return t, nil
}

// Validate checks the invariants every persisted state must satisfy.
func (s State) Validate() error {
	if !s.Current.Valid() {
		return fmt.Errorf("current phase %d: %w", s.Current, ErrInvalidPhase)
	}
	for i, p := range s.Progress {
		if p < 0 || p > 100 {
			return fmt.Errorf("phase %d progress %d: %w", i+1, p, ErrInvalidProgress)
		}
		if n := Number(i + 1); n > s.Current && p != 0 {
			return fmt.Errorf("phase %d is ahead of current phase %d but has progress %d", n, s.Current, p)
		}
	}
	if s.CompletedAt != nil && s.Current != Last {
		return fmt.Errorf("completed project must sit on phase %d, got %d", Last, s.Current)
	}
	return nil
}
