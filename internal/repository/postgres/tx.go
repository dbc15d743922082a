package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"localrank/internal/model"
	"localrank/internal/repository"
	"localrank/pkg/outbox"
)

type tx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
	logger *zap.Logger
}

// InsertAgency inserts a new agency.
func (t *tx) InsertAgency(ctx context.Context, a *model.Agency) error {
	query := `
        INSERT INTO agencies (id, email, company_name, logo_url, subscription_status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := t.tx.Exec(ctx, query, a.ID, a.Email, a.CompanyName, a.LogoURL, a.SubscriptionStatus, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		t.logger.Error("Failed to insert agency", zap.String("agency_id", a.ID), zap.Error(err))
	}
	return mapErr(err)
}

// GetAgency returns agency by id.
func (t *tx) GetAgency(ctx context.Context, id string) (*model.Agency, error) {
	query := `
        SELECT id, email, company_name, logo_url, subscription_status, created_at, updated_at
        FROM agencies
        WHERE id = $1
    `
	var a model.Agency
	err := t.tx.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.Email, &a.CompanyName, &a.LogoURL, &a.SubscriptionStatus, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

const clientColumns = `id, agency_id, business_name, service_type, location, phone, email, website_url, status, created_at, updated_at`

func scanClient(row pgx.Row, c *model.Client) error {
	return row.Scan(
		&c.ID, &c.AgencyID, &c.BusinessName, &c.ServiceType, &c.Location,
		&c.Phone, &c.Email, &c.WebsiteURL, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
}

// InsertClient inserts a new client under its agency.
func (t *tx) InsertClient(ctx context.Context, c *model.Client) error {
	query := `
        INSERT INTO clients (` + clientColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `
	_, err := t.tx.Exec(ctx, query,
		c.ID, c.AgencyID, c.BusinessName, c.ServiceType, c.Location,
		c.Phone, c.Email, c.WebsiteURL, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		t.logger.Error("Failed to insert client", zap.String("client_id", c.ID), zap.Error(err))
	}
	return mapErr(err)
}

func (t *tx) GetClient(ctx context.Context, id string) (*model.Client, error) {
	var c model.Client
	if err := scanClient(t.tx.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id), &c); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// ListClients returns every client of an agency in creation order.
func (t *tx) ListClients(ctx context.Context, agencyID string) ([]model.Client, error) {
	query := `
        SELECT ` + clientColumns + `
        FROM clients
        WHERE agency_id = $1
        ORDER BY created_at, id
    `
	rows, err := t.tx.Query(ctx, query, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := []model.Client{}
	for rows.Next() {
		var c model.Client
		if err := scanClient(rows, &c); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (t *tx) UpdateClientStatus(ctx context.Context, id string, status model.ClientStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE clients SET status = $1, updated_at = $2 WHERE id = $3`, status, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const projectColumns = `id, client_id, agency_id, current_phase,
        phase_1_progress, phase_2_progress, phase_3_progress, phase_4_progress, phase_5_progress, phase_6_progress,
        started_at, completed_at, created_at, updated_at`

func scanProject(row pgx.Row, p *model.Project) error {
	return row.Scan(
		&p.ID, &p.ClientID, &p.AgencyID, &p.CurrentPhase,
		&p.PhaseProgress[0], &p.PhaseProgress[1], &p.PhaseProgress[2],
		&p.PhaseProgress[3], &p.PhaseProgress[4], &p.PhaseProgress[5],
		&p.StartedAt, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
}

func (t *tx) InsertProject(ctx context.Context, p *model.Project) error {
	pp := p.PhaseProgress
	query := `
        INSERT INTO projects (` + projectColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `
	_, err := t.tx.Exec(ctx, query,
		p.ID, p.ClientID, p.AgencyID, p.CurrentPhase,
		pp[0], pp[1], pp[2], pp[3], pp[4], pp[5],
		p.StartedAt, p.CompletedAt, p.CreatedAt, p.UpdatedAt,
	)
	return mapErr(err)
}

// GetProject with forUpdate holds the row lock until the transaction ends so
// concurrent task mutations on the same project queue behind each other.
func (t *tx) GetProject(ctx context.Context, id string, forUpdate bool) (*model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var p model.Project
	if err := scanProject(t.tx.QueryRow(ctx, query, id), &p); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (t *tx) GetProjectByClient(ctx context.Context, clientID string) (*model.Project, error) {
	var p model.Project
	if err := scanProject(t.tx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE client_id = $1`, clientID), &p); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (t *tx) UpdateProject(ctx context.Context, p *model.Project) error {
	pp := p.PhaseProgress
	query := `
        UPDATE projects SET
            current_phase = $1,
            phase_1_progress = $2, phase_2_progress = $3, phase_3_progress = $4,
            phase_4_progress = $5, phase_5_progress = $6, phase_6_progress = $7,
            completed_at = $8, updated_at = $9
        WHERE id = $10
    `
	tag, err := t.tx.Exec(ctx, query,
		p.CurrentPhase, pp[0], pp[1], pp[2], pp[3], pp[4], pp[5],
		p.CompletedAt, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const taskColumns = `seq, id, project_id, phase, title, description, assigned_to, completed, completed_at, order_index, created_at, updated_at`

func scanTask(row pgx.Row, k *model.Task) error {
	return row.Scan(
		&k.Seq, &k.ID, &k.ProjectID, &k.Phase, &k.Title, &k.Description, &k.AssignedTo,
		&k.Completed, &k.CompletedAt, &k.OrderIndex, &k.CreatedAt, &k.UpdatedAt,
	)
}

// InsertTask inserts a task and reads back its creation sequence.
func (t *tx) InsertTask(ctx context.Context, k *model.Task) error {
	query := `
        INSERT INTO tasks (id, project_id, phase, title, description, assigned_to, completed, completed_at, order_index, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING seq
    `
	err := t.tx.QueryRow(ctx, query,
		k.ID, k.ProjectID, k.Phase, k.Title, k.Description, k.AssignedTo,
		k.Completed, k.CompletedAt, k.OrderIndex, k.CreatedAt, k.UpdatedAt,
	).Scan(&k.Seq)
	return mapErr(err)
}

func (t *tx) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var k model.Task
	if err := scanTask(t.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id), &k); err != nil {
		return nil, mapErr(err)
	}
	return &k, nil
}

func (t *tx) UpdateTaskCompletion(ctx context.Context, k *model.Task) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE tasks SET completed = $1, completed_at = $2, updated_at = $3 WHERE id = $4`,
		k.Completed, k.CompletedAt, k.UpdatedAt, k.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *tx) ListTasks(ctx context.Context, projectID string, phase int) ([]model.Task, error) {
	query := `
        SELECT ` + taskColumns + `
        FROM tasks
        WHERE project_id = $1 AND ($2 = 0 OR phase = $2)
        ORDER BY phase, order_index, seq
    `
	rows, err := t.tx.Query(ctx, query, projectID, phase)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		var k model.Task
		if err := scanTask(rows, &k); err != nil {
			return nil, err
		}
		tasks = append(tasks, k)
	}
	return tasks, rows.Err()
}

func (t *tx) CountTasks(ctx context.Context, projectID string, phase int) (int, int, error) {
	var total, completed int
	err := t.tx.QueryRow(ctx, `
        SELECT COUNT(*), COUNT(*) FILTER (WHERE completed)
        FROM tasks
        WHERE project_id = $1 AND phase = $2
    `, projectID, phase).Scan(&total, &completed)
	return total, completed, err
}

const keywordColumns = `id, client_id, agency_id, keyword, search_volume, difficulty, commercial_intent,
        keyword_type, priority, current_ranking, target_page, position, created_at`

// InsertKeywords writes the whole batch in one round trip.
func (t *tx) InsertKeywords(ctx context.Context, kws []model.Keyword) error {
	query := `
        INSERT INTO keywords (` + keywordColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `
	batch := &pgx.Batch{}
	for _, kw := range kws {
		batch.Queue(query,
			kw.ID, kw.ClientID, kw.AgencyID, kw.Keyword, kw.SearchVolume, kw.Difficulty, kw.CommercialIntent,
			kw.KeywordType, kw.Priority, kw.CurrentRanking, kw.TargetPage, kw.Position, kw.CreatedAt,
		)
	}

	br := t.tx.SendBatch(ctx, batch)
	for _, kw := range kws {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert keyword %d: %w", kw.Position, mapErr(err))
		}
	}
	return br.Close()
}

func (t *tx) CountKeywords(ctx context.Context, clientID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM keywords WHERE client_id = $1`, clientID).Scan(&n)
	return n, err
}

func (t *tx) ListKeywords(ctx context.Context, clientID string) ([]model.Keyword, error) {
	query := `
        SELECT ` + keywordColumns + `
        FROM keywords
        WHERE client_id = $1
        ORDER BY position
    `
	rows, err := t.tx.Query(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	kws := []model.Keyword{}
	for rows.Next() {
		var kw model.Keyword
		err := rows.Scan(
			&kw.ID, &kw.ClientID, &kw.AgencyID, &kw.Keyword, &kw.SearchVolume, &kw.Difficulty, &kw.CommercialIntent,
			&kw.KeywordType, &kw.Priority, &kw.CurrentRanking, &kw.TargetPage, &kw.Position, &kw.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		kws = append(kws, kw)
	}
	return kws, rows.Err()
}

const competitorColumns = `id, client_id, agency_id, business_name, website_url, review_count, average_rating,
        strengths, weaknesses, ranking_position, analyzed_at, created_at`

func (t *tx) InsertCompetitor(ctx context.Context, c *model.Competitor) error {
	query := `
        INSERT INTO competitors (` + competitorColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `
	_, err := t.tx.Exec(ctx, query,
		c.ID, c.ClientID, c.AgencyID, c.BusinessName, c.WebsiteURL, c.ReviewCount, c.AverageRating,
		c.Strengths, c.Weaknesses, c.RankingPosition, c.AnalyzedAt, c.CreatedAt,
	)
	return mapErr(err)
}

func (t *tx) ListCompetitors(ctx context.Context, clientID string) ([]model.Competitor, error) {
	query := `
        SELECT ` + competitorColumns + `
        FROM competitors
        WHERE client_id = $1
        ORDER BY seq
    `
	rows, err := t.tx.Query(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Competitor{}
	for rows.Next() {
		var c model.Competitor
		err := rows.Scan(
			&c.ID, &c.ClientID, &c.AgencyID, &c.BusinessName, &c.WebsiteURL, &c.ReviewCount, &c.AverageRating,
			&c.Strengths, &c.Weaknesses, &c.RankingPosition, &c.AnalyzedAt, &c.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AppendEvent records the event in the outbox inside the business transaction.
func (t *tx) AppendEvent(ctx context.Context, e *model.Event) error {
	ev := outbox.NewPendingEvent(e.ID, e.AggregateType, e.AggregateID, e.AgencyID, e.RoutingKey, e.Payload, e.OccurredAt)
	return t.outbox.InsertEvent(ctx, t.tx, ev)
}

func (t *tx) InsertActivity(ctx context.Context, a *model.Activity) (bool, error) {
	query := `
        INSERT INTO activities (event_id, agency_id, client_id, kind, message, occurred_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (event_id) DO NOTHING
        RETURNING id
    `
	err := t.tx.QueryRow(ctx, query, a.EventID, a.AgencyID, a.ClientID, a.Kind, a.Message, a.OccurredAt).Scan(&a.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *tx) ListActivity(ctx context.Context, agencyID string, limit int) ([]model.Activity, error) {
	query := `
        SELECT id, event_id, agency_id, client_id, kind, message, occurred_at
        FROM activities
        WHERE agency_id = $1
        ORDER BY id DESC
        LIMIT $2
    `
	rows, err := t.tx.Query(ctx, query, agencyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Activity{}
	for rows.Next() {
		var a model.Activity
		if err := rows.Scan(&a.ID, &a.EventID, &a.AgencyID, &a.ClientID, &a.Kind, &a.Message, &a.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
