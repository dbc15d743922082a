// Package keyword builds the fixed 20-candidate keyword set for a client and
// evaluates the list filters.
package keyword

import (
	"math/rand/v2"
	"strings"
	"sync"

	"localrank/internal/model"
)

// BatchSize is the number of candidates produced per generation.
const BatchSize = 20

// Templates are expanded in order; {s} is the service type, {l} the location.
var Templates = [BatchSize]string{
	"{s} {l}",
	"{s} near me",
	"best {s} {l}",
	"affordable {s} {l}",
	"emergency {s} {l}",
	"24/7 {s} {l}",
	"{s} services {l}",
	"local {s} {l}",
	"{s} company {l}",
	"{s} contractor {l}",
	"residential {s} {l}",
	"commercial {s} {l}",
	"{s} repair {l}",
	"{s} installation {l}",
	"{s} maintenance {l}",
	"cheap {s} {l}",
	"professional {s} {l}",
	"licensed {s} {l}",
	"experienced {s} {l}",
	"{s} specialists {l}",
}

// Classify maps a template index to its keyword type.
func Classify(i int) model.KeywordType {
	switch {
	case i%5 == 0:
		return model.KeywordEmergency
	case i%3 == 0:
		return model.KeywordLocation
	default:
		return model.KeywordService
	}
}

func Expand(template, serviceType, location string) string {
	return strings.NewReplacer("{s}", serviceType, "{l}", location).Replace(template)
}

// Source supplies uniform integers in [0, n). *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

var (
	difficulties = [...]model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard}
	intents      = [...]model.Intent{model.IntentLow, model.IntentMedium, model.IntentHigh}
)

const (
	minPriority = 1
	maxPriority = 10
	minVolume   = 100
	maxVolume   = 1099
)

type Generator struct {
	mu  sync.Mutex
	src Source
}

// NewGenerator returns a generator drawing from src, or from the process-wide
// math/rand source when src is nil. A seeded *rand.Rand is not safe for
// concurrent use, so draws are serialized.
func NewGenerator(src Source) *Generator {
	if src == nil {
		src = globalSource{}
	}
	return &Generator{src: src}
}

// Generate expands every template for the given service type and location.
// Scores are placeholders, drawn per candidate in the order difficulty,
// intent, priority, search volume. Identity and ownership fields are left
// for the caller.
func (g *Generator) Generate(serviceType, location string) []model.Keyword {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]model.Keyword, 0, BatchSize)
	for i, tpl := range Templates {
		kw := model.Keyword{
			Keyword:     Expand(tpl, serviceType, location),
			KeywordType: Classify(i),
			Position:    i,
		}
		kw.Difficulty = difficulties[g.src.IntN(len(difficulties))]
		kw.CommercialIntent = intents[g.src.IntN(len(intents))]
		kw.Priority = minPriority + g.src.IntN(maxPriority-minPriority+1)
		kw.SearchVolume = minVolume + g.src.IntN(maxVolume-minVolume+1)
		out = append(out, kw)
	}
	return out
}
