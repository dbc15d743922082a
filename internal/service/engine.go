// Package service implements the engagement progress engine: tenant records,
// the phase state machine driven by task completion, keyword generation and
// the competitor register. Every mutation runs inside one store transaction
// together with the outbox events it produces.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	contractmq "localrank/contracts/mq"
	"localrank/internal/keyword"
	"localrank/internal/model"
	"localrank/internal/repository"
	"localrank/internal/tenant"
	"localrank/pkg/circuitbreaker"
	"localrank/pkg/lock"
	"localrank/pkg/logger"
	"localrank/pkg/metrics"
	"localrank/pkg/otel"
	"localrank/pkg/trace"
)

const (
	DefaultInsightDelay      = 2 * time.Second
	DefaultGenerationLockTTL = 30 * time.Second
)

// Options 引擎行为参数
type Options struct {
	InsightDelay       time.Duration
	GenerationLockTTL  time.Duration
	SeedBlueprintTasks bool
	Breaker            circuitbreaker.Config
}

func DefaultOptions() Options {
	return Options{
		InsightDelay:      DefaultInsightDelay,
		GenerationLockTTL: DefaultGenerationLockTTL,
		Breaker:           circuitbreaker.DefaultConfig(),
	}
}

type Engine struct {
	store     repository.Store
	locker    lock.Locker
	projects  *lock.KeyedMutex
	generator *keyword.Generator
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
	opts      Options

	now   func() time.Time
	newID func() string
}

// NewEngine wires the engine. A nil locker falls back to an in-process one,
// a nil generator draws from the global random source.
func NewEngine(store repository.Store, locker lock.Locker, generator *keyword.Generator, logger *zap.Logger, opts Options) *Engine {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if generator == nil {
		generator = keyword.NewGenerator(nil)
	}
	if opts.InsightDelay < 0 {
		opts.InsightDelay = 0
	}
	if opts.GenerationLockTTL <= 0 {
		opts.GenerationLockTTL = DefaultGenerationLockTTL
	}
	if opts.Breaker.FailureThreshold <= 0 {
		opts.Breaker = circuitbreaker.DefaultConfig()
	}
	opts.Breaker.IsFailure = countsAsBackendFailure

	return &Engine{
		store:     store,
		locker:    locker,
		projects:  lock.NewKeyedMutex(),
		generator: generator,
		breaker:   circuitbreaker.NewCircuitBreaker(opts.Breaker),
		logger:    logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:     uuid.NewString,
	}
}

// Ready 检查存储是否可用
func (e *Engine) Ready(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func countsAsBackendFailure(err error) bool {
	if isDomainError(err) || errors.Is(err, context.Canceled) {
		return false
	}
	return !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, repository.ErrDuplicate)
}

// inTx 在熔断器保护下执行一个存储事务，并把错误翻译为引擎错误
func (e *Engine) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) error) error {
	ctx, span := otel.StartSpan(ctx, "engine."+op)
	defer span.End()

	err := e.breaker.Execute(func() error {
		return e.store.InTx(ctx, fn)
	})
	if err != nil {
		span.RecordError(err)
	}
	return classify(op, err)
}

// observe 记录失败操作的日志和指标；在各操作中 defer 调用
func (e *Engine) observe(ctx context.Context, op string, errp *error) {
	err := *errp
	if err == nil {
		return
	}
	kind := errorKind(err)
	metrics.IncrementEngineError(op, kind)

	l := logger.WithTrace(ctx, e.logger)
	if kind == "backend_unavailable" || kind == "internal" {
		l.Error("Engine operation failed", zap.String("op", op), zap.Error(err))
		return
	}
	l.Debug("Engine operation rejected", zap.String("op", op), zap.String("kind", kind), zap.Error(err))
}

// authorize 校验调用方 agency（若 context 中有）与记录的 owner 一致
func authorize(ctx context.Context, resource, id, ownerAgencyID string) error {
	caller, ok := tenant.FromContext(ctx)
	if ok && caller != ownerAgencyID {
		return &OwnershipError{Resource: resource, ID: id}
	}
	return nil
}

// notFound 把 ErrNotFound 翻译为带资源名的 NotFoundError
func notFound(err error, resource, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return err
}

func (e *Engine) loadClient(ctx context.Context, tx repository.Tx, clientID string) (*model.Client, error) {
	c, err := tx.GetClient(ctx, clientID)
	if err != nil {
		return nil, notFound(err, "client", clientID)
	}
	if err := authorize(ctx, "client", clientID, c.AgencyID); err != nil {
		return nil, err
	}
	return c, nil
}

func (e *Engine) loadProject(ctx context.Context, tx repository.Tx, projectID string, forUpdate bool) (*model.Project, error) {
	p, err := tx.GetProject(ctx, projectID, forUpdate)
	if err != nil {
		return nil, notFound(err, "project", projectID)
	}
	if err := authorize(ctx, "project", projectID, p.AgencyID); err != nil {
		return nil, err
	}
	return p, nil
}

// appendEvent 写入 outbox，与业务数据同一事务提交
func (e *Engine) appendEvent(ctx context.Context, tx repository.Tx, routingKey, aggregateType, aggregateID, agencyID, clientID string, data any, at time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", routingKey, err)
	}
	id := e.newID()
	body, err := json.Marshal(contractmq.Envelope{
		EventID:    id,
		RoutingKey: routingKey,
		AgencyID:   agencyID,
		ClientID:   clientID,
		TraceID:    trace.FromContext(ctx),
		OccurredAt: at,
		Data:       raw,
	})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", routingKey, err)
	}
	return tx.AppendEvent(ctx, &model.Event{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		AgencyID:      agencyID,
		RoutingKey:    routingKey,
		Payload:       body,
		OccurredAt:    at,
	})
}
