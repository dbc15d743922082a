package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	contractmq "localrank/contracts/mq"
	"localrank/internal/model"
	"localrank/internal/phase"
	"localrank/internal/repository"
	"localrank/pkg/logger"
	"localrank/pkg/metrics"
)

// TaskInput 新建任务的调用方字段
type TaskInput struct {
	Phase       int     `json:"phase"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	OrderIndex  int     `json:"order_index"`
}

// TaskUpdate is the result of a task mutation: the task and the project it
// rolled up into.
type TaskUpdate struct {
	Task    model.Task    `json:"task"`
	Project model.Project `json:"project"`
}

// CreateProject opens the engagement for a client. Each client has exactly one.
func (e *Engine) CreateProject(ctx context.Context, clientID, agencyID string) (_ *model.Project, err error) {
	defer e.observe(ctx, "create_project", &err)

	now := e.now()
	p := &model.Project{
		ID:        e.newID(),
		ClientID:  clientID,
		AgencyID:  agencyID,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	phase.New().ApplyTo(p)

	err = e.inTx(ctx, "create_project", func(ctx context.Context, tx repository.Tx) error {
		c, err := e.loadClient(ctx, tx, clientID)
		if err != nil {
			return err
		}
		if c.AgencyID != agencyID {
			return &OwnershipError{Resource: "client", ID: clientID}
		}
		if _, err := tx.GetProjectByClient(ctx, clientID); err == nil {
			return &ConflictError{Message: "client already has a project"}
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if err := tx.InsertProject(ctx, p); err != nil {
			return err
		}
		if e.opts.SeedBlueprintTasks {
			if err := e.seedTasks(ctx, tx, p.ID, now); err != nil {
				return err
			}
		}
		return e.appendEvent(ctx, tx, contractmq.ProjectCreated, "project", p.ID, p.AgencyID, p.ClientID,
			contractmq.ProjectCreatedPayload{ProjectID: p.ID, ClientID: p.ClientID}, now)
	})
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, e.logger).Info("Project created",
		zap.String("project_id", p.ID),
		zap.String("client_id", clientID),
		zap.Bool("seeded", e.opts.SeedBlueprintTasks),
	)
	return p, nil
}

// seedTasks 写入默认检查清单；所有任务未完成，进度保持 0
func (e *Engine) seedTasks(ctx context.Context, tx repository.Tx, projectID string, now time.Time) error {
	for n := phase.First; n <= phase.Last; n++ {
		for i, title := range blueprintTasks[n] {
			t := &model.Task{
				ID:         e.newID(),
				ProjectID:  projectID,
				Phase:      int(n),
				Title:      title,
				OrderIndex: i,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.InsertTask(ctx, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) GetProject(ctx context.Context, projectID string) (_ *model.Project, err error) {
	defer e.observe(ctx, "get_project", &err)

	var p *model.Project
	err = e.inTx(ctx, "get_project", func(ctx context.Context, tx repository.Tx) error {
		var err error
		p, err = e.loadProject(ctx, tx, projectID, false)
		return err
	})
	return p, err
}

// ProjectForClient returns the client's project.
func (e *Engine) ProjectForClient(ctx context.Context, clientID string) (_ *model.Project, err error) {
	defer e.observe(ctx, "project_for_client", &err)

	var p *model.Project
	err = e.inTx(ctx, "project_for_client", func(ctx context.Context, tx repository.Tx) error {
		if _, err := e.loadClient(ctx, tx, clientID); err != nil {
			return err
		}
		var err error
		p, err = tx.GetProjectByClient(ctx, clientID)
		return notFound(err, "project for client", clientID)
	})
	return p, err
}

// AddTask appends a checklist item to a phase and recomputes that phase.
func (e *Engine) AddTask(ctx context.Context, projectID string, in TaskInput) (_ *TaskUpdate, err error) {
	defer e.observe(ctx, "add_task", &err)

	if !phase.Number(in.Phase).Valid() {
		return nil, invalid("phase must be between 1 and 6")
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, invalid("title is required")
	}

	unlock := e.projects.Lock(projectID)
	defer unlock()

	var out TaskUpdate
	err = e.inTx(ctx, "add_task", func(ctx context.Context, tx repository.Tx) error {
		p, err := e.loadProject(ctx, tx, projectID, true)
		if err != nil {
			return err
		}
		now := e.now()
		t := &model.Task{
			ID:          e.newID(),
			ProjectID:   projectID,
			Phase:       in.Phase,
			Title:       in.Title,
			Description: in.Description,
			AssignedTo:  in.AssignedTo,
			OrderIndex:  in.OrderIndex,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertTask(ctx, t); err != nil {
			return err
		}
		if _, err := e.recompute(ctx, tx, p, phase.Number(in.Phase), now); err != nil {
			return err
		}
		out = TaskUpdate{Task: *t, Project: *p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks returns a project's tasks ordered by order_index then creation.
// phase 0 lists every phase.
func (e *Engine) ListTasks(ctx context.Context, projectID string, phaseN int) (_ []model.Task, err error) {
	defer e.observe(ctx, "list_tasks", &err)

	if phaseN != 0 && !phase.Number(phaseN).Valid() {
		return nil, invalid("phase must be between 1 and 6")
	}
	var tasks []model.Task
	err = e.inTx(ctx, "list_tasks", func(ctx context.Context, tx repository.Tx) error {
		if _, err := e.loadProject(ctx, tx, projectID, false); err != nil {
			return err
		}
		var err error
		tasks, err = tx.ListTasks(ctx, projectID, phaseN)
		return err
	})
	return tasks, err
}

func (e *Engine) CompleteTask(ctx context.Context, taskID string) (*TaskUpdate, error) {
	return e.setTaskCompleted(ctx, "complete_task", taskID, true)
}

func (e *Engine) ReopenTask(ctx context.Context, taskID string) (*TaskUpdate, error) {
	return e.setTaskCompleted(ctx, "reopen_task", taskID, false)
}

// setTaskCompleted 切换任务完成状态。同一项目上的变更串行执行，
// 进度在同一事务内按任务计数重新计算。重复调用返回当前状态。
func (e *Engine) setTaskCompleted(ctx context.Context, op, taskID string, completed bool) (_ *TaskUpdate, err error) {
	defer e.observe(ctx, op, &err)

	var projectID string
	err = e.inTx(ctx, op, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return notFound(err, "task", taskID)
		}
		projectID = t.ProjectID
		return nil
	})
	if err != nil {
		return nil, err
	}

	unlock := e.projects.Lock(projectID)
	defer unlock()

	var (
		out        TaskUpdate
		transition = "noop"
	)
	err = e.inTx(ctx, op, func(ctx context.Context, tx repository.Tx) error {
		p, err := e.loadProject(ctx, tx, projectID, true)
		if err != nil {
			return err
		}
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return notFound(err, "task", taskID)
		}
		out = TaskUpdate{Task: *t, Project: *p}
		if t.Completed == completed {
			return nil
		}

		now := e.now()
		t.Completed = completed
		t.CompletedAt = nil
		if completed {
			t.CompletedAt = &now
		}
		t.UpdatedAt = now
		if err := tx.UpdateTaskCompletion(ctx, t); err != nil {
			return notFound(err, "task", taskID)
		}
		if _, err := e.recompute(ctx, tx, p, phase.Number(t.Phase), now); err != nil {
			return err
		}

		if completed {
			transition = "completed"
		} else {
			transition = "reopened"
		}
		out = TaskUpdate{Task: *t, Project: *p}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncrementTaskTransition(transition)
	return &out, nil
}

// SetPhaseProgress records progress for a phase that has no tasks. Phases
// with tasks derive their progress from completion and reject this, and so
// do phases the project has not reached yet.
func (e *Engine) SetPhaseProgress(ctx context.Context, projectID string, phaseN, progress int) (_ *model.Project, err error) {
	defer e.observe(ctx, "set_phase_progress", &err)

	n := phase.Number(phaseN)
	if !n.Valid() {
		return nil, invalid("phase must be between 1 and 6")
	}
	if progress < 0 || progress > 100 {
		return nil, invalid("progress must be between 0 and 100")
	}

	unlock := e.projects.Lock(projectID)
	defer unlock()

	var p *model.Project
	err = e.inTx(ctx, "set_phase_progress", func(ctx context.Context, tx repository.Tx) error {
		var err error
		if p, err = e.loadProject(ctx, tx, projectID, true); err != nil {
			return err
		}
		total, _, err := tx.CountTasks(ctx, projectID, phaseN)
		if err != nil {
			return err
		}
		if total > 0 {
			return invalid("phase %d progress is derived from its %d tasks", phaseN, total)
		}
		if phaseN > p.CurrentPhase {
			return invalid("phase %d is not active yet, current phase is %d", phaseN, p.CurrentPhase)
		}
		_, err = e.apply(ctx, tx, p, n, progress, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// recompute 按任务计数重新计算阶段进度；没有任务的阶段保留原值
func (e *Engine) recompute(ctx context.Context, tx repository.Tx, p *model.Project, n phase.Number, now time.Time) (phase.Transition, error) {
	total, completed, err := tx.CountTasks(ctx, p.ID, int(n))
	if err != nil {
		return phase.Transition{}, err
	}
	pct, ok := phase.Progress(completed, total)
	if !ok {
		return phase.Transition{Phase: n, From: phase.Number(p.CurrentPhase), To: phase.Number(p.CurrentPhase)}, nil
	}
	return e.apply(ctx, tx, p, n, pct, now)
}

// apply 把进度交给状态机，新进入的阶段按任务计数补算进度，
// 校验后持久化结果并记录阶段推进与完成事件
func (e *Engine) apply(ctx context.Context, tx repository.Tx, p *model.Project, n phase.Number, progress int, now time.Time) (phase.Transition, error) {
	state := phase.FromProject(p)
	tr, err := state.Apply(n, progress, now)
	if err != nil {
		return tr, invalid("%s", err.Error())
	}
	tr, err = state.Settle(tr, func(k phase.Number) (int, int, error) {
		total, completed, err := tx.CountTasks(ctx, p.ID, int(k))
		return completed, total, err
	}, now)
	if err != nil {
		return tr, err
	}
	if !tr.Changed() {
		return tr, nil
	}
	if err := state.Validate(); err != nil {
		return tr, fmt.Errorf("project %s: %w", p.ID, err)
	}

	state.ApplyTo(p)
	p.UpdatedAt = now
	if err := tx.UpdateProject(ctx, p); err != nil {
		return tr, err
	}

	if tr.Advanced() {
		to, _ := phase.Lookup(tr.To)
		err := e.appendEvent(ctx, tx, contractmq.ProjectPhaseAdvanced, "project", p.ID, p.AgencyID, p.ClientID,
			contractmq.PhaseAdvancedPayload{ProjectID: p.ID, From: int(tr.From), To: int(tr.To), PhaseName: to.Title}, now)
		if err != nil {
			return tr, err
		}
		for k := tr.From + 1; k <= tr.To; k++ {
			metrics.IncrementPhaseAdvance(strconv.Itoa(int(k)))
		}
		logger.WithTrace(ctx, e.logger).Info("Project phase advanced",
			zap.String("project_id", p.ID),
			zap.Int("from", int(tr.From)),
			zap.Int("to", int(tr.To)),
		)
	}
	if tr.Completed {
		err := e.appendEvent(ctx, tx, contractmq.ProjectCompleted, "project", p.ID, p.AgencyID, p.ClientID,
			contractmq.ProjectCompletedPayload{ProjectID: p.ID, CompletedAt: *p.CompletedAt}, now)
		if err != nil {
			return tr, err
		}
		logger.WithTrace(ctx, e.logger).Info("Project completed", zap.String("project_id", p.ID))
	}
	return tr, nil
}
