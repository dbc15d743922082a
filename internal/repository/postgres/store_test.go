package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"localrank/internal/model"
	"localrank/internal/repository"
)

// 需要真实 PostgreSQL：TEST_DATABASE_URL=postgres://...
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	s := NewStore(pool, zap.NewNop())
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresProjectAndTasks(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	a := &model.Agency{ID: uuid.NewString(), Email: uuid.NewString() + "@acme.test", CompanyName: "Acme",
		SubscriptionStatus: model.SubscriptionTrial, CreatedAt: now, UpdatedAt: now}
	c := &model.Client{ID: uuid.NewString(), AgencyID: a.ID, BusinessName: "Joe's Pipes", ServiceType: "Plumbing",
		Location: "Phoenix, AZ", Status: model.ClientActive, CreatedAt: now, UpdatedAt: now}
	p := &model.Project{ID: uuid.NewString(), ClientID: c.ID, AgencyID: a.ID, CurrentPhase: 1,
		StartedAt: now, CreatedAt: now, UpdatedAt: now}

	err := s.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		require.NoError(t, tx.InsertAgency(ctx, a))
		require.NoError(t, tx.InsertClient(ctx, c))
		require.NoError(t, tx.InsertProject(ctx, p))

		first := &model.Task{ID: uuid.NewString(), ProjectID: p.ID, Phase: 1, Title: "first", CreatedAt: now, UpdatedAt: now}
		second := &model.Task{ID: uuid.NewString(), ProjectID: p.ID, Phase: 1, Title: "second", CreatedAt: now, UpdatedAt: now}
		require.NoError(t, tx.InsertTask(ctx, first))
		require.NoError(t, tx.InsertTask(ctx, second))
		assert.Less(t, first.Seq, second.Seq)

		first.Completed = true
		first.CompletedAt = &now
		require.NoError(t, tx.UpdateTaskCompletion(ctx, first))

		total, completed, err := tx.CountTasks(ctx, p.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Equal(t, 1, completed)

		locked, err := tx.GetProject(ctx, p.ID, true)
		require.NoError(t, err)
		assert.Equal(t, c.ID, locked.ClientID)
		return nil
	})
	require.NoError(t, err)

	err = s.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertProject(ctx, &model.Project{ID: uuid.NewString(), ClientID: c.ID, AgencyID: a.ID,
			CurrentPhase: 1, StartedAt: now, CreatedAt: now, UpdatedAt: now})
	})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}
