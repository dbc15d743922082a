// Package repository defines the transactional storage contract shared by the
// postgres and sqlite backends.
package repository

import (
	"context"
	"errors"
	"time"

	"localrank/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store runs units of work. Every mutation and every multi-row read happens
// inside InTx so that an operation either applies completely or not at all.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Driver() string
	Close()
}

// Tx is the set of statements available inside one transaction.
type Tx interface {
	InsertAgency(ctx context.Context, a *model.Agency) error
	GetAgency(ctx context.Context, id string) (*model.Agency, error)

	InsertClient(ctx context.Context, c *model.Client) error
	GetClient(ctx context.Context, id string) (*model.Client, error)
	ListClients(ctx context.Context, agencyID string) ([]model.Client, error)
	UpdateClientStatus(ctx context.Context, id string, status model.ClientStatus, at time.Time) error

	InsertProject(ctx context.Context, p *model.Project) error
	// GetProject locks the row for the rest of the transaction when forUpdate
	// is set and the backend supports row locks.
	GetProject(ctx context.Context, id string, forUpdate bool) (*model.Project, error)
	GetProjectByClient(ctx context.Context, clientID string) (*model.Project, error)
	UpdateProject(ctx context.Context, p *model.Project) error

	// InsertTask assigns t.Seq.
	InsertTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	UpdateTaskCompletion(ctx context.Context, t *model.Task) error
	// ListTasks orders by order_index then creation; phase 0 lists every phase.
	ListTasks(ctx context.Context, projectID string, phase int) ([]model.Task, error)
	CountTasks(ctx context.Context, projectID string, phase int) (total, completed int, err error)

	InsertKeywords(ctx context.Context, kws []model.Keyword) error
	CountKeywords(ctx context.Context, clientID string) (int, error)
	ListKeywords(ctx context.Context, clientID string) ([]model.Keyword, error)

	InsertCompetitor(ctx context.Context, c *model.Competitor) error
	ListCompetitors(ctx context.Context, clientID string) ([]model.Competitor, error)

	// AppendEvent writes a domain event to the outbox.
	AppendEvent(ctx context.Context, e *model.Event) error
	// InsertActivity reports false when the event was already recorded.
	InsertActivity(ctx context.Context, a *model.Activity) (bool, error)
	ListActivity(ctx context.Context, agencyID string, limit int) ([]model.Activity, error)
}
