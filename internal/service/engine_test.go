package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	contractmq "localrank/contracts/mq"
	"localrank/internal/keyword"
	"localrank/internal/model"
	"localrank/internal/repository"
	"localrank/internal/repository/sqlite"
	"localrank/internal/tenant"
	"localrank/pkg/circuitbreaker"
	"localrank/pkg/outbox"
)

type fixture struct {
	engine *Engine
	store  *sqlite.Store
	agency *model.Agency
	client *model.Client
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "engine.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	opts := DefaultOptions()
	opts.InsightDelay = 10 * time.Millisecond
	for _, m := range mutate {
		m(&opts)
	}
	gen := keyword.NewGenerator(rand.New(rand.NewPCG(1, 2)))
	e := NewEngine(store, nil, gen, zap.NewNop(), opts)

	ctx := context.Background()
	a, err := e.CreateAgency(ctx, "ops@acme.test", "Acme Marketing", nil)
	require.NoError(t, err)
	c, err := e.CreateClient(ctx, a.ID, model.ClientFields{
		BusinessName: "Joe's Pipes",
		ServiceType:  "Plumbing",
		Location:     "Phoenix, AZ",
	})
	require.NoError(t, err)
	return &fixture{engine: e, store: store, agency: a, client: c}
}

func (f *fixture) project(t *testing.T) *model.Project {
	t.Helper()
	p, err := f.engine.CreateProject(context.Background(), f.client.ID, f.agency.ID)
	require.NoError(t, err)
	return p
}

func (f *fixture) addTasks(t *testing.T, projectID string, phaseN, n int) []model.Task {
	t.Helper()
	var out []model.Task
	for i := 0; i < n; i++ {
		u, err := f.engine.AddTask(context.Background(), projectID, TaskInput{Phase: phaseN, Title: "task", OrderIndex: i})
		require.NoError(t, err)
		out = append(out, u.Task)
	}
	return out
}

func TestCreateClientValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateClient(ctx, f.agency.ID, model.ClientFields{BusinessName: "X", ServiceType: "Astrology", Location: "Here"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "service_type")

	_, err = f.engine.CreateClient(ctx, "no-such-agency", model.ClientFields{BusinessName: "X", ServiceType: "HVAC", Location: "Here"})
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = f.engine.CreateAgency(ctx, "ops@acme.test", "Again", nil)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict, "agency email is unique")
}

func TestTaskCompletionDrivesProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t)
	tasks := f.addTasks(t, p.ID, 1, 3)

	u, err := f.engine.CompleteTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.True(t, u.Task.Completed)
	require.NotNil(t, u.Task.CompletedAt)
	assert.Equal(t, 33, u.Project.Progress(1))

	u, err = f.engine.CompleteTask(ctx, tasks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 67, u.Project.Progress(1))

	again, err := f.engine.CompleteTask(ctx, tasks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, u.Project.PhaseProgress, again.Project.PhaseProgress, "completing twice is a no-op")

	u, err = f.engine.ReopenTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.False(t, u.Task.Completed)
	assert.Nil(t, u.Task.CompletedAt)
	assert.Equal(t, 33, u.Project.Progress(1))

	added, err := f.engine.AddTask(ctx, p.ID, TaskInput{Phase: 1, Title: "one more"})
	require.NoError(t, err)
	assert.Equal(t, 25, added.Project.Progress(1), "a new open task lowers progress")
}

func TestPhaseAdvancesAndNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t)
	tasks := f.addTasks(t, p.ID, 1, 2)

	for _, task := range tasks {
		_, err := f.engine.CompleteTask(ctx, task.ID)
		require.NoError(t, err)
	}
	got, err := f.engine.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentPhase)

	u, err := f.engine.ReopenTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 50, u.Project.Progress(1))
	assert.Equal(t, 2, u.Project.CurrentPhase, "reopening lowers progress only")
}

func TestCompletingBlueprintCompletesProject(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.SeedBlueprintTasks = true })
	ctx := context.Background()
	p := f.project(t)

	tasks, err := f.engine.ListTasks(ctx, p.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)

	// 倒序完成：后面阶段先到 100，最后由阶段 1 级联推进
	for i := len(tasks) - 1; i >= 0; i-- {
		_, err := f.engine.CompleteTask(ctx, tasks[i].ID)
		require.NoError(t, err)
	}

	got, err := f.engine.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.CurrentPhase)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, [model.PhaseCount]int{100, 100, 100, 100, 100, 100}, got.PhaseProgress)

	pending, err := f.store.GetPendingEvents(ctx, 100)
	require.NoError(t, err)
	var keys []string
	for _, ev := range pending {
		keys = append(keys, ev.RoutingKey)
	}
	assert.Contains(t, keys, contractmq.ProjectPhaseAdvanced)
	assert.Contains(t, keys, contractmq.ProjectCompleted)
}

func TestListTasksOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t)

	for _, in := range []TaskInput{
		{Phase: 3, Title: "c", OrderIndex: 1},
		{Phase: 3, Title: "a", OrderIndex: 0},
		{Phase: 3, Title: "b", OrderIndex: 1},
		{Phase: 2, Title: "other", OrderIndex: 0},
	} {
		_, err := f.engine.AddTask(ctx, p.ID, in)
		require.NoError(t, err)
	}

	tasks, err := f.engine.ListTasks(ctx, p.ID, 3)
	require.NoError(t, err)
	var titles []string
	for _, k := range tasks {
		titles = append(titles, k.Title)
	}
	if diff := cmp.Diff([]string{"a", "c", "b"}, titles); diff != "" {
		t.Errorf("task order mismatch (-want +got):\n%s", diff)
	}

	_, err = f.engine.AddTask(ctx, p.ID, TaskInput{Phase: 7, Title: "x"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	_, err = f.engine.AddTask(ctx, p.ID, TaskInput{Phase: 1, Title: "  "})
	assert.ErrorAs(t, err, &verr)
}

func TestConcurrentTaskCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t)
	tasks := f.addTasks(t, p.ID, 1, 8)

	var wg sync.WaitGroup
	errs := make(chan error, len(tasks))
	for _, task := range tasks {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.engine.CompleteTask(ctx, id)
			errs <- err
		}(task.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := f.engine.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress(1), "no lost updates")
	assert.Equal(t, 2, got.CurrentPhase)
	assert.Zero(t, f.engine.projects.Len())
}

func TestSetPhaseProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t)

	_, err := f.engine.SetPhaseProgress(ctx, p.ID, 2, 100)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr, "phase 2 is not active yet")

	got, err := f.engine.SetPhaseProgress(ctx, p.ID, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentPhase)
	assert.Zero(t, got.Progress(2), "phase 2 has no tasks and enters at 0")

	got, err = f.engine.SetPhaseProgress(ctx, p.ID, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentPhase)

	f.addTasks(t, p.ID, 3, 1)
	_, err = f.engine.SetPhaseProgress(ctx, p.ID, 3, 50)
	assert.ErrorAs(t, err, &verr, "phase 3 progress comes from its tasks")

	_, err = f.engine.SetPhaseProgress(ctx, p.ID, 5, 101)
	assert.ErrorAs(t, err, &verr)
}

func TestFuturePhaseProgressStaysZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t)
	phase3 := f.addTasks(t, p.ID, 3, 2)

	u, err := f.engine.CompleteTask(ctx, phase3[0].ID)
	require.NoError(t, err)
	assert.Equal(t, [model.PhaseCount]int{}, u.Project.PhaseProgress)
	assert.Equal(t, 1, u.Project.CurrentPhase)

	u, err = f.engine.CompleteTask(ctx, phase3[1].ID)
	require.NoError(t, err)
	assert.Zero(t, u.Project.Progress(3), "phase 3 is ahead of the current phase")
	assert.Equal(t, 1, u.Project.CurrentPhase)

	phase1 := f.addTasks(t, p.ID, 1, 1)
	u, err = f.engine.CompleteTask(ctx, phase1[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, u.Project.CurrentPhase, "phase 2 has no tasks and holds the project")
	assert.Zero(t, u.Project.Progress(3))

	got, err := f.engine.SetPhaseProgress(ctx, p.ID, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CurrentPhase, "entering phase 3 picks up its finished tasks")
	assert.Equal(t, [model.PhaseCount]int{100, 100, 100, 0, 0, 0}, got.PhaseProgress)
}

func TestCorruptProjectStateIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t)
	tasks := f.addTasks(t, p.ID, 1, 2)

	corrupt := [model.PhaseCount]int{0, 0, 0, 0, 40, 0}
	err := f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		got, err := tx.GetProject(ctx, p.ID, true)
		if err != nil {
			return err
		}
		got.PhaseProgress = corrupt
		return tx.UpdateProject(ctx, got)
	})
	require.NoError(t, err)

	_, err = f.engine.CompleteTask(ctx, tasks[0].ID)
	require.Error(t, err)

	got, err := f.engine.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, corrupt, got.PhaseProgress, "the failed mutation rolled back")
	listed, err := f.engine.ListTasks(ctx, p.ID, 1)
	require.NoError(t, err)
	for _, task := range listed {
		assert.False(t, task.Completed)
	}
}

func TestOneProjectPerClient(t *testing.T) {
	f := newFixture(t)
	f.project(t)

	_, err := f.engine.CreateProject(context.Background(), f.client.ID, f.agency.ID)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)

	p, err := f.engine.ProjectForClient(context.Background(), f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, f.client.ID, p.ClientID)
}

func TestGenerateKeywords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kws, err := f.engine.GenerateKeywords(ctx, f.client.ID, f.agency.ID, "Plumbing", "Phoenix, AZ")
	require.NoError(t, err)
	require.Len(t, kws, keyword.BatchSize)
	assert.Equal(t, "Plumbing Phoenix, AZ", kws[0].Keyword)
	assert.Equal(t, model.KeywordEmergency, kws[0].KeywordType)
	assert.Equal(t, model.KeywordService, kws[1].KeywordType)
	assert.Equal(t, model.KeywordLocation, kws[3].KeywordType)
	for _, kw := range kws {
		assert.Equal(t, f.client.ID, kw.ClientID)
		assert.Equal(t, f.agency.ID, kw.AgencyID)
	}

	_, err = f.engine.GenerateKeywords(ctx, f.client.ID, f.agency.ID, "Plumbing", "Phoenix, AZ")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict, "a client gets one keyword set")

	all, err := f.engine.FilterKeywords(ctx, f.client.ID, "all")
	require.NoError(t, err)
	assert.Len(t, all, keyword.BatchSize)

	high, err := f.engine.FilterKeywords(ctx, f.client.ID, "high-priority")
	require.NoError(t, err)
	for _, kw := range high {
		assert.GreaterOrEqual(t, kw.Priority, 7)
		assert.Contains(t, all, kw)
	}
	want := 0
	for _, kw := range all {
		if kw.Priority >= 7 {
			want++
		}
	}
	assert.Len(t, high, want)

	_, err = f.engine.FilterKeywords(ctx, f.client.ID, "trending")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestConcurrentKeywordGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	type result struct {
		kws []model.Keyword
		err error
	}
	results := make(chan result, 2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			kws, err := f.engine.GenerateKeywords(ctx, f.client.ID, f.agency.ID, "Plumbing", "Phoenix, AZ")
			results <- result{kws, err}
		}()
	}
	close(start)

	var ok, conflicts int
	for i := 0; i < 2; i++ {
		r := <-results
		var conflict *ConflictError
		switch {
		case r.err == nil:
			ok++
			assert.Len(t, r.kws, keyword.BatchSize)
		case errors.As(r.err, &conflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	err := f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		n, err := tx.CountKeywords(ctx, f.client.ID)
		assert.Equal(t, keyword.BatchSize, n)
		return err
	})
	require.NoError(t, err)
}

func TestCompetitors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := 5.1
	_, err := f.engine.AddCompetitor(ctx, f.client.ID, f.agency.ID, model.CompetitorFields{
		BusinessName: "Rival Plumbing", WebsiteURL: "https://rival.test", AverageRating: &bad,
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	list, err := f.engine.ListCompetitors(ctx, f.client.ID)
	require.NoError(t, err)
	assert.Empty(t, list, "nothing stored on validation failure")

	rating := 4.5
	rank := 2
	first, err := f.engine.AddCompetitor(ctx, f.client.ID, f.agency.ID, model.CompetitorFields{
		BusinessName: "Rival Plumbing", WebsiteURL: "https://rival.test", ReviewCount: 120,
		AverageRating: &rating, RankingPosition: &rank,
	})
	require.NoError(t, err)
	second, err := f.engine.AddCompetitor(ctx, f.client.ID, f.agency.ID, model.CompetitorFields{
		BusinessName: "Other Pipes", WebsiteURL: "https://other.test",
	})
	require.NoError(t, err)

	list, err = f.engine.ListCompetitors(ctx, f.client.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	assert.Nil(t, list[1].AverageRating)

	_, err = f.engine.AddCompetitor(ctx, f.client.ID, f.agency.ID, model.CompetitorFields{
		BusinessName: "Neg", WebsiteURL: "https://neg.test", ReviewCount: -1,
	})
	assert.ErrorAs(t, err, &verr)

	for _, raw := range []string{"not a url", "rival.test", "/just/a/path", "https://"} {
		_, err = f.engine.AddCompetitor(ctx, f.client.ID, f.agency.ID, model.CompetitorFields{
			BusinessName: "Bad URL", WebsiteURL: raw,
		})
		if assert.ErrorAs(t, err, &verr, raw) {
			assert.Contains(t, verr.Message, "website_url")
		}
	}
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	p := f.project(t)
	other, err := f.engine.CreateAgency(context.Background(), "other@agency.test", "Other", nil)
	require.NoError(t, err)

	intruder := tenant.WithAgency(context.Background(), other.ID)
	var own *OwnershipError

	_, err = f.engine.GetClient(intruder, f.client.ID)
	assert.ErrorAs(t, err, &own)
	_, err = f.engine.GetProject(intruder, p.ID)
	assert.ErrorAs(t, err, &own)
	_, err = f.engine.ListClients(intruder, f.agency.ID)
	assert.ErrorAs(t, err, &own)
	_, err = f.engine.GenerateKeywords(intruder, f.client.ID, f.agency.ID, "Plumbing", "Phoenix, AZ")
	assert.ErrorAs(t, err, &own)

	// agency_id 必须与父 client 一致
	_, err = f.engine.AddCompetitor(context.Background(), f.client.ID, other.ID, model.CompetitorFields{
		BusinessName: "Rival", WebsiteURL: "https://rival.test",
	})
	assert.ErrorAs(t, err, &own)

	owner := tenant.WithAgency(context.Background(), f.agency.ID)
	clients, err := f.engine.ListClients(owner, f.agency.ID)
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}

func TestUpdateClientStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.engine.UpdateClientStatus(ctx, f.client.ID, model.ClientPaused)
	require.NoError(t, err)
	assert.Equal(t, model.ClientPaused, c.Status)

	_, err = f.engine.UpdateClientStatus(ctx, f.client.ID, "deleted")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = f.engine.UpdateClientStatus(ctx, "missing", model.ClientActive)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestGenerateInsights(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := NewEngine(nil, nil, nil, zap.NewNop(), Options{InsightDelay: 5 * time.Millisecond})
	ack, err := e.GenerateInsights(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, "client-1", ack.ClientID)
	assert.NotEmpty(t, ack.Message)

	slow := NewEngine(nil, nil, nil, zap.NewNop(), Options{InsightDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := slow.GenerateInsights(ctx, "client-1")
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("GenerateInsights ignored cancellation")
	}
}

type failingStore struct {
	calls int
}

func (s *failingStore) InTx(context.Context, func(context.Context, repository.Tx) error) error {
	s.calls++
	return errors.New("dial tcp 10.0.0.1:5432: connection refused")
}
func (s *failingStore) Ping(context.Context) error { return errors.New("down") }
func (s *failingStore) Driver() string { return "failing" }
func (s *failingStore) Close() {}

func TestBackendFailuresOpenBreaker(t *testing.T) {
	store := &failingStore{}
	opts := DefaultOptions()
	opts.Breaker = circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour, HalfOpenMaxRequests: 1}
	e := NewEngine(store, nil, nil, zap.NewNop(), opts)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.GetClient(ctx, "c")
		var unavailable *BackendUnavailableError
		require.ErrorAs(t, err, &unavailable)
	}

	_, err := e.GetClient(ctx, "c")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Equal(t, 2, store.calls, "open breaker fails fast")

	// 校验错误在触及存储之前返回
	_, err = e.AddTask(ctx, "p", TaskInput{Phase: 0, Title: "x"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

// partialKeywordStore loses the connection halfway through every keyword batch.
type partialKeywordStore struct {
	*sqlite.Store
}

func (s partialKeywordStore) InTx(ctx context.Context, fn func(context.Context, repository.Tx) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, partialKeywordTx{tx})
	})
}

type partialKeywordTx struct {
	repository.Tx
}

func (tx partialKeywordTx) InsertKeywords(ctx context.Context, kws []model.Keyword) error {
	if err := tx.Tx.InsertKeywords(ctx, kws[:min(5, len(kws))]); err != nil {
		return err
	}
	return errors.New("write tcp 10.0.0.1:5432: connection reset by peer")
}

func TestKeywordBatchFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gen := keyword.NewGenerator(rand.New(rand.NewPCG(1, 2)))
	broken := NewEngine(partialKeywordStore{f.store}, nil, gen, zap.NewNop(), DefaultOptions())

	_, err := broken.GenerateKeywords(ctx, f.client.ID, f.agency.ID, "Plumbing", "Phoenix, AZ")
	var unavailable *BackendUnavailableError
	require.ErrorAs(t, err, &unavailable)

	all, err := f.engine.FilterKeywords(ctx, f.client.ID, "all")
	require.NoError(t, err)
	assert.Empty(t, all, "the partial batch rolled back")

	pending, err := f.store.GetPendingEvents(ctx, 100)
	require.NoError(t, err)
	for _, ev := range pending {
		assert.NotEqual(t, contractmq.KeywordsGenerated, ev.RoutingKey)
	}

	kws, err := f.engine.GenerateKeywords(ctx, f.client.ID, f.agency.ID, "Plumbing", "Phoenix, AZ")
	require.NoError(t, err, "a later attempt is not refused as a duplicate")
	assert.NotEmpty(t, kws)
}

func TestEventsCarryEnvelope(t *testing.T) {
	f := newFixture(t)
	pending, err := f.store.GetPendingEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	ev := pending[0]
	assert.Equal(t, contractmq.ClientCreated, ev.RoutingKey)
	assert.Equal(t, outbox.StatusPending, ev.Status)
	assert.Equal(t, f.agency.ID, ev.AgencyID)
	assert.Contains(t, string(ev.Payload), `"event_id":"`+ev.ID+`"`)
}
