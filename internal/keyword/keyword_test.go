package keyword

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localrank/internal/model"
)

// seqSource replays fixed draws, wrapping around.
type seqSource struct {
	draws []int
	i     int
}

func (s *seqSource) IntN(n int) int {
	v := s.draws[s.i%len(s.draws)] % n
	s.i++
	return v
}

func TestGenerateExpandsTemplatesInOrder(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewPCG(1, 2)))
	kws := g.Generate("Plumbing", "Phoenix, AZ")
	require.Len(t, kws, BatchSize)

	var got []string
	for _, kw := range kws {
		got = append(got, kw.Keyword)
	}
	want := []string{
		"Plumbing Phoenix, AZ",
		"Plumbing near me",
		"best Plumbing Phoenix, AZ",
		"affordable Plumbing Phoenix, AZ",
		"emergency Plumbing Phoenix, AZ",
		"24/7 Plumbing Phoenix, AZ",
		"Plumbing services Phoenix, AZ",
		"local Plumbing Phoenix, AZ",
		"Plumbing company Phoenix, AZ",
		"Plumbing contractor Phoenix, AZ",
		"residential Plumbing Phoenix, AZ",
		"commercial Plumbing Phoenix, AZ",
		"Plumbing repair Phoenix, AZ",
		"Plumbing installation Phoenix, AZ",
		"Plumbing maintenance Phoenix, AZ",
		"cheap Plumbing Phoenix, AZ",
		"professional Plumbing Phoenix, AZ",
		"licensed Plumbing Phoenix, AZ",
		"experienced Plumbing Phoenix, AZ",
		"Plumbing specialists Phoenix, AZ",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("keywords mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, model.KeywordEmergency, kws[0].KeywordType)
	assert.Equal(t, model.KeywordService, kws[1].KeywordType)
	assert.Equal(t, model.KeywordLocation, kws[3].KeywordType)
	for i, kw := range kws {
		assert.Equal(t, i, kw.Position)
	}
}

func TestClassify(t *testing.T) {
	var got []model.KeywordType
	for i := 0; i < BatchSize; i++ {
		got = append(got, Classify(i))
	}
	e, l, s := model.KeywordEmergency, model.KeywordLocation, model.KeywordService
	want := []model.KeywordType{e, s, s, l, s, e, l, s, s, l, e, s, l, s, s, e, s, s, l, s}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("classification mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateScoresStayInRange(t *testing.T) {
	g := NewGenerator(nil)
	for round := 0; round < 50; round++ {
		for _, kw := range g.Generate("HVAC", "Austin, TX") {
			assert.Contains(t, difficulties[:], kw.Difficulty)
			assert.Contains(t, intents[:], kw.CommercialIntent)
			assert.GreaterOrEqual(t, kw.Priority, 1)
			assert.LessOrEqual(t, kw.Priority, 10)
			assert.GreaterOrEqual(t, kw.SearchVolume, 100)
			assert.LessOrEqual(t, kw.SearchVolume, 1099)
		}
	}
}

func TestGenerateDrawOrderIsPinned(t *testing.T) {
	// difficulty, intent, priority, volume for each candidate
	src := &seqSource{draws: []int{2, 0, 9, 999, 0, 2, 0, 0}}
	kws := NewGenerator(src).Generate("Roofing", "Reno")

	assert.Equal(t, model.DifficultyHard, kws[0].Difficulty)
	assert.Equal(t, model.IntentLow, kws[0].CommercialIntent)
	assert.Equal(t, 10, kws[0].Priority)
	assert.Equal(t, 1099, kws[0].SearchVolume)

	assert.Equal(t, model.DifficultyEasy, kws[1].Difficulty)
	assert.Equal(t, model.IntentHigh, kws[1].CommercialIntent)
	assert.Equal(t, 1, kws[1].Priority)
	assert.Equal(t, 100, kws[1].SearchVolume)

	assert.Equal(t, 4*BatchSize, src.i, "exactly four draws per candidate")
}

func TestSameSeedSameBatch(t *testing.T) {
	a := NewGenerator(rand.New(rand.NewPCG(42, 42))).Generate("HVAC", "Tulsa")
	b := NewGenerator(rand.New(rand.NewPCG(42, 42))).Generate("HVAC", "Tulsa")
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("seeded batches differ:\n%s", diff)
	}
}

func TestGeneratorConcurrentUse(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewPCG(3, 4)))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, g.Generate("Locksmith", "Boise"), BatchSize)
		}()
	}
	wg.Wait()
}

func TestFilters(t *testing.T) {
	kws := NewGenerator(rand.New(rand.NewPCG(9, 9))).Generate("Plumbing", "Phoenix, AZ")
	before := append([]model.Keyword(nil), kws...)

	all := FilterAll.Apply(kws)
	assert.Len(t, all, len(kws))

	high := FilterHighPriority.Apply(kws)
	var want []model.Keyword
	for _, kw := range kws {
		if kw.Priority >= 7 {
			want = append(want, kw)
		}
	}
	if diff := cmp.Diff(want, high, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("high-priority mismatch:\n%s", diff)
	}
	for _, kw := range high {
		assert.Contains(t, all, kw)
	}

	for _, kw := range FilterEasy.Apply(kws) {
		assert.Equal(t, model.DifficultyEasy, kw.Difficulty)
	}
	for _, kw := range FilterHighIntent.Apply(kws) {
		assert.Equal(t, model.IntentHigh, kw.CommercialIntent)
	}

	if diff := cmp.Diff(before, kws); diff != "" {
		t.Fatalf("filters mutated their input:\n%s", diff)
	}
}

func TestParseFilter(t *testing.T) {
	for _, name := range []string{"all", "high-priority", "easy", "high-intent"} {
		f, err := ParseFilter(name)
		require.NoError(t, err)
		assert.Equal(t, Filter(name), f)
	}
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterAll, f)

	_, err = ParseFilter("trending")
	assert.ErrorIs(t, err, ErrUnknownFilter)
}
