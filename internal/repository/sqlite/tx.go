package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"localrank/internal/model"
	"localrank/internal/repository"
)

// tx implements repository.Tx. It must only touch sqlTx: the pool holds a
// single connection and reaching for it here would deadlock.
type tx struct {
	tx *sql.Tx
}

func (t *tx) InsertAgency(ctx context.Context, a *model.Agency) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO agencies (id, email, company_name, logo_url, subscription_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.CompanyName, a.LogoURL, a.SubscriptionStatus, a.CreatedAt, a.UpdatedAt,
	)
	return mapErr(err)
}

func (t *tx) GetAgency(ctx context.Context, id string) (*model.Agency, error) {
	var a model.Agency
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, email, company_name, logo_url, subscription_status, created_at, updated_at
		FROM agencies WHERE id = ?`, id,
	).Scan(&a.ID, &a.Email, &a.CompanyName, &a.LogoURL, &a.SubscriptionStatus, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

const clientColumns = `id, agency_id, business_name, service_type, location, phone, email, website_url, status, created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }, c *model.Client) error {
	return row.Scan(
		&c.ID, &c.AgencyID, &c.BusinessName, &c.ServiceType, &c.Location,
		&c.Phone, &c.Email, &c.WebsiteURL, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
}

func (t *tx) InsertClient(ctx context.Context, c *model.Client) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AgencyID, c.BusinessName, c.ServiceType, c.Location,
		c.Phone, c.Email, c.WebsiteURL, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	return mapErr(err)
}

func (t *tx) GetClient(ctx context.Context, id string) (*model.Client, error) {
	var c model.Client
	row := t.tx.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	if err := scanClient(row, &c); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (t *tx) ListClients(ctx context.Context, agencyID string) ([]model.Client, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE agency_id = ?
		ORDER BY created_at, rowid`, agencyID)
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
	res, err := t.tx.ExecContext(ctx, `UPDATE clients SET status = ?, updated_at = ? WHERE id = ?`, status, at, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

const projectColumns = `id, client_id, agency_id, current_phase,
	phase_1_progress, phase_2_progress, phase_3_progress, phase_4_progress, phase_5_progress, phase_6_progress,
	started_at, completed_at, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }, p *model.Project) error {
	return row.Scan(
		&p.ID, &p.ClientID, &p.AgencyID, &p.CurrentPhase,
		&p.PhaseProgress[0], &p.PhaseProgress[1], &p.PhaseProgress[2],
		&p.PhaseProgress[3], &p.PhaseProgress[4], &p.PhaseProgress[5],
		&p.StartedAt, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
}

func (t *tx) InsertProject(ctx context.Context, p *model.Project) error {
	pp := p.PhaseProgress
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ClientID, p.AgencyID, p.CurrentPhase,
		pp[0], pp[1], pp[2], pp[3], pp[4], pp[5],
		p.StartedAt, p.CompletedAt, p.CreatedAt, p.UpdatedAt,
	)
	return mapErr(err)
}

// GetProject ignores forUpdate: the single connection already serializes
// every transaction.
func (t *tx) GetProject(ctx context.Context, id string, _ bool) (*model.Project, error) {
	var p model.Project
	row := t.tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	if err := scanProject(row, &p); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (t *tx) GetProjectByClient(ctx context.Context, clientID string) (*model.Project, error) {
	var p model.Project
	row := t.tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE client_id = ?`, clientID)
	if err := scanProject(row, &p); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (t *tx) UpdateProject(ctx context.Context, p *model.Project) error {
	pp := p.PhaseProgress
	res, err := t.tx.ExecContext(ctx, `
		UPDATE projects SET
			current_phase = ?,
			phase_1_progress = ?, phase_2_progress = ?, phase_3_progress = ?,
			phase_4_progress = ?, phase_5_progress = ?, phase_6_progress = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ?`,
		p.CurrentPhase, pp[0], pp[1], pp[2], pp[3], pp[4], pp[5],
		p.CompletedAt, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

const taskColumns = `seq, id, project_id, phase, title, description, assigned_to, completed, completed_at, order_index, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }, k *model.Task) error {
	return row.Scan(
		&k.Seq, &k.ID, &k.ProjectID, &k.Phase, &k.Title, &k.Description, &k.AssignedTo,
		&k.Completed, &k.CompletedAt, &k.OrderIndex, &k.CreatedAt, &k.UpdatedAt,
	)
}

func (t *tx) InsertTask(ctx context.Context, k *model.Task) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, phase, title, description, assigned_to, completed, completed_at, order_index, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.ProjectID, k.Phase, k.Title, k.Description, k.AssignedTo,
		k.Completed, k.CompletedAt, k.OrderIndex, k.CreatedAt, k.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	k.Seq = seq
	return nil
}

func (t *tx) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var k model.Task
	row := t.tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err := scanTask(row, &k); err != nil {
		return nil, mapErr(err)
	}
	return &k, nil
}

func (t *tx) UpdateTaskCompletion(ctx context.Context, k *model.Task) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET completed = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		k.Completed, k.CompletedAt, k.UpdatedAt, k.ID,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *tx) ListTasks(ctx context.Context, projectID string, phase int) ([]model.Task, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id = ? AND (? = 0 OR phase = ?)
		ORDER BY phase, order_index, seq`, projectID, phase, phase)
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
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN completed THEN 1 ELSE 0 END), 0)
		FROM tasks WHERE project_id = ? AND phase = ?`, projectID, phase,
	).Scan(&total, &completed)
	return total, completed, err
}

const keywordColumns = `id, client_id, agency_id, keyword, search_volume, difficulty, commercial_intent,
	keyword_type, priority, current_ranking, target_page, position, created_at`

func (t *tx) InsertKeywords(ctx context.Context, kws []model.Keyword) error {
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO keywords (`+keywordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, kw := range kws {
		_, err := stmt.ExecContext(ctx,
			kw.ID, kw.ClientID, kw.AgencyID, kw.Keyword, kw.SearchVolume, kw.Difficulty, kw.CommercialIntent,
			kw.KeywordType, kw.Priority, kw.CurrentRanking, kw.TargetPage, kw.Position, kw.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert keyword %d: %w", kw.Position, mapErr(err))
		}
	}
	return nil
}

func (t *tx) CountKeywords(ctx context.Context, clientID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM keywords WHERE client_id = ?`, clientID).Scan(&n)
	return n, err
}

func (t *tx) ListKeywords(ctx context.Context, clientID string) ([]model.Keyword, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+keywordColumns+` FROM keywords
		WHERE client_id = ?
		ORDER BY position`, clientID)
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
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO competitors (`+competitorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ClientID, c.AgencyID, c.BusinessName, c.WebsiteURL, c.ReviewCount, c.AverageRating,
		c.Strengths, c.Weaknesses, c.RankingPosition, c.AnalyzedAt, c.CreatedAt,
	)
	return mapErr(err)
}

func (t *tx) ListCompetitors(ctx context.Context, clientID string) ([]model.Competitor, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+competitorColumns+` FROM competitors
		WHERE client_id = ?
		ORDER BY seq`, clientID)
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

func (t *tx) AppendEvent(ctx context.Context, e *model.Event) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_events (id, aggregate_type, aggregate_id, agency_id, routing_key, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)`,
		e.ID, e.AggregateType, e.AggregateID, e.AgencyID, e.RoutingKey, string(e.Payload), e.OccurredAt, e.OccurredAt,
	)
	return mapErr(err)
}

func (t *tx) InsertActivity(ctx context.Context, a *model.Activity) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO activities (event_id, agency_id, client_id, kind, message, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		a.EventID, a.AgencyID, a.ClientID, a.Kind, a.Message, a.OccurredAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	a.ID, err = res.LastInsertId()
	return true, err
}

func (t *tx) ListActivity(ctx context.Context, agencyID string, limit int) ([]model.Activity, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, event_id, agency_id, client_id, kind, message, occurred_at
		FROM activities
		WHERE agency_id = ?
		ORDER BY id DESC
		LIMIT ?`, agencyID, limit)
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

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
