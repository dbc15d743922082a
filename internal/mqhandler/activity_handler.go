package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	contractmq "localrank/contracts/mq"
	"localrank/internal/model"
	"localrank/internal/repository"
	"localrank/pkg/logger"
	"localrank/pkg/trace"
	"localrank/pkg/util"
)

const activityHandlerName = "activity_feed"

var errMissingEventID = errors.New("event envelope has no event_id")

// ActivityHandler 把领域事件写入 agency 的动态流
type ActivityHandler struct {
	store   repository.Store
	deduper *util.Deduper
	logger  *zap.Logger
}

// NewActivityHandler builds the handler. deduper may be nil; the activities
// table is unique on event_id either way.
func NewActivityHandler(store repository.Store, deduper *util.Deduper, logger *zap.Logger) *ActivityHandler {
	return &ActivityHandler{
		store:   store,
		deduper: deduper,
		logger:  logger,
	}
}

func (h *ActivityHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var env contractmq.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Error("Failed to unmarshal event envelope", zap.Error(err))
		return err
	}
	if env.EventID == "" {
		return errMissingEventID
	}
	if env.TraceID != "" && trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, env.TraceID)
	}
	l := logger.WithTrace(ctx, h.logger).With(
		zap.String("event_id", env.EventID),
		zap.String("routing_key", env.RoutingKey),
	)

	if !h.deduper.AcquireOnce(ctx, activityHandlerName, env.EventID) {
		return nil
	}

	message, err := describe(env)
	if err != nil {
		l.Error("Failed to decode event data", zap.Error(err))
		return err
	}

	activity := &model.Activity{
		EventID:    env.EventID,
		AgencyID:   env.AgencyID,
		ClientID:   env.ClientID,
		Kind:       env.RoutingKey,
		Message:    message,
		OccurredAt: env.OccurredAt,
	}
	var inserted bool
	err = h.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		inserted, err = tx.InsertActivity(ctx, activity)
		return err
	})
	if err != nil {
		// 释放去重标记，让重投的消息还能处理
		h.deduper.Forget(ctx, activityHandlerName, env.EventID)
		l.Error("Failed to insert activity", zap.Error(err))
		return err
	}

	if inserted {
		l.Info("Activity recorded", zap.String("agency_id", env.AgencyID))
	} else {
		l.Debug("Activity already recorded")
	}
	return nil
}

// describe 生成动态流中展示的文本
func describe(env contractmq.Envelope) (string, error) {
	switch env.RoutingKey {
	case contractmq.ClientCreated:
		var p contractmq.ClientCreatedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return "", err
		}
		return fmt.Sprintf("New client %s (%s, %s)", p.BusinessName, p.ServiceType, p.Location), nil
	case contractmq.ProjectCreated:
		return "Engagement started at phase 1", nil
	case contractmq.ProjectPhaseAdvanced:
		var p contractmq.PhaseAdvancedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return "", err
		}
		return fmt.Sprintf("Advanced from phase %d to phase %d: %s", p.From, p.To, p.PhaseName), nil
	case contractmq.ProjectCompleted:
		return "Engagement completed", nil
	case contractmq.KeywordsGenerated:
		var p contractmq.KeywordsGeneratedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return "", err
		}
		return fmt.Sprintf("Generated %d keyword opportunities for %s in %s", p.Count, p.ServiceType, p.Location), nil
	case contractmq.CompetitorAdded:
		var p contractmq.CompetitorAddedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return "", err
		}
		return fmt.Sprintf("Added competitor %s", p.BusinessName), nil
	}
	return fmt.Sprintf("Event %s", env.RoutingKey), nil
}
