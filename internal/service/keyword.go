package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	contractmq "localrank/contracts/mq"
	"localrank/internal/keyword"
	"localrank/internal/model"
	"localrank/internal/repository"
	"localrank/pkg/logger"
	"localrank/pkg/metrics"
)

func generationLockKey(clientID string) string {
	return "keywords:gen:" + clientID
}

// GenerateKeywords creates the client's keyword opportunity set. The whole
// batch is stored in one transaction. Only one generation per client may run
// at a time, and a client that already has keywords is refused.
func (e *Engine) GenerateKeywords(ctx context.Context, clientID, agencyID, serviceType, location string) (_ []model.Keyword, err error) {
	defer e.observe(ctx, "generate_keywords", &err)

	serviceType = strings.TrimSpace(serviceType)
	location = strings.TrimSpace(location)
	if serviceType == "" {
		return nil, invalid("service_type is required")
	}
	if location == "" {
		return nil, invalid("location is required")
	}

	release, acquired, err := e.locker.TryAcquire(ctx, generationLockKey(clientID), e.opts.GenerationLockTTL)
	if err != nil {
		metrics.IncrementKeywordBatch("failed")
		return nil, &BackendUnavailableError{Op: "generate_keywords", Err: err}
	}
	if !acquired {
		metrics.IncrementKeywordBatch("conflict")
		return nil, &ConflictError{
			Message:    "keyword generation already in progress for this client",
			RetryAfter: e.opts.GenerationLockTTL,
		}
	}
	defer release()

	var batch []model.Keyword
	err = e.inTx(ctx, "generate_keywords", func(ctx context.Context, tx repository.Tx) error {
		c, err := e.loadClient(ctx, tx, clientID)
		if err != nil {
			return err
		}
		if c.AgencyID != agencyID {
			return &OwnershipError{Resource: "client", ID: clientID}
		}
		n, err := tx.CountKeywords(ctx, clientID)
		if err != nil {
			return err
		}
		if n > 0 {
			return &ConflictError{Message: "keywords already generated for this client"}
		}

		now := e.now()
		batch = e.generator.Generate(serviceType, location)
		for i := range batch {
			batch[i].ID = e.newID()
			batch[i].ClientID = clientID
			batch[i].AgencyID = agencyID
			batch[i].CreatedAt = now
		}
		if err := tx.InsertKeywords(ctx, batch); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, contractmq.KeywordsGenerated, "client", clientID, agencyID, clientID,
			contractmq.KeywordsGeneratedPayload{Count: len(batch), ServiceType: serviceType, Location: location}, now)
	})
	if err != nil {
		var conflict *ConflictError
		switch {
		case errors.As(err, &conflict):
			metrics.IncrementKeywordBatch("conflict")
		default:
			metrics.IncrementKeywordBatch("failed")
		}
		return nil, err
	}

	metrics.IncrementKeywordBatch("success")
	logger.WithTrace(ctx, e.logger).Info("Keywords generated",
		zap.String("client_id", clientID),
		zap.Int("count", len(batch)),
	)
	return batch, nil
}

// FilterKeywords returns the client's keywords matching the named filter,
// in template order.
func (e *Engine) FilterKeywords(ctx context.Context, clientID, filter string) (_ []model.Keyword, err error) {
	defer e.observe(ctx, "filter_keywords", &err)

	f, err := keyword.ParseFilter(filter)
	if err != nil {
		return nil, invalid("unknown filter %q", filter)
	}

	var all []model.Keyword
	err = e.inTx(ctx, "filter_keywords", func(ctx context.Context, tx repository.Tx) error {
		if _, err := e.loadClient(ctx, tx, clientID); err != nil {
			return err
		}
		var err error
		all, err = tx.ListKeywords(ctx, clientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return f.Apply(all), nil
}
