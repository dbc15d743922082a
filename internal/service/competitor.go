package service

import (
	"context"
	"math"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	contractmq "localrank/contracts/mq"
	"localrank/internal/model"
	"localrank/internal/repository"
	"localrank/pkg/logger"
)

const insightMessage = "Competitor analysis complete! Insights have been generated based on the data provided."

func validateCompetitor(f model.CompetitorFields) error {
	if strings.TrimSpace(f.BusinessName) == "" {
		return invalid("business_name is required")
	}
	if strings.TrimSpace(f.WebsiteURL) == "" {
		return invalid("website_url is required")
	}
	if u, err := url.ParseRequestURI(strings.TrimSpace(f.WebsiteURL)); err != nil || u.Host == "" {
		return invalid("website_url must be an absolute URL")
	}
	if f.ReviewCount < 0 {
		return invalid("review_count must not be negative")
	}
	if r := f.AverageRating; r != nil && (math.IsNaN(*r) || *r < 0 || *r > 5) {
		return invalid("average_rating must be between 0 and 5")
	}
	if f.RankingPosition != nil && *f.RankingPosition < 1 {
		return invalid("ranking_position must be at least 1")
	}
	return nil
}

// AddCompetitor records a competitor for a client.
func (e *Engine) AddCompetitor(ctx context.Context, clientID, agencyID string, f model.CompetitorFields) (_ *model.Competitor, err error) {
	defer e.observe(ctx, "add_competitor", &err)

	if err := validateCompetitor(f); err != nil {
		return nil, err
	}

	now := e.now()
	comp := &model.Competitor{
		ID:              e.newID(),
		ClientID:        clientID,
		AgencyID:        agencyID,
		BusinessName:    strings.TrimSpace(f.BusinessName),
		WebsiteURL:      strings.TrimSpace(f.WebsiteURL),
		ReviewCount:     f.ReviewCount,
		AverageRating:   f.AverageRating,
		Strengths:       f.Strengths,
		Weaknesses:      f.Weaknesses,
		RankingPosition: f.RankingPosition,
		AnalyzedAt:      now,
		CreatedAt:       now,
	}
	err = e.inTx(ctx, "add_competitor", func(ctx context.Context, tx repository.Tx) error {
		c, err := e.loadClient(ctx, tx, clientID)
		if err != nil {
			return err
		}
		if c.AgencyID != agencyID {
			return &OwnershipError{Resource: "client", ID: clientID}
		}
		if err := tx.InsertCompetitor(ctx, comp); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, contractmq.CompetitorAdded, "competitor", comp.ID, agencyID, clientID,
			contractmq.CompetitorAddedPayload{CompetitorID: comp.ID, BusinessName: comp.BusinessName}, now)
	})
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, e.logger).Info("Competitor added",
		zap.String("client_id", clientID),
		zap.String("competitor_id", comp.ID),
	)
	return comp, nil
}

func (e *Engine) ListCompetitors(ctx context.Context, clientID string) (_ []model.Competitor, err error) {
	defer e.observe(ctx, "list_competitors", &err)

	var out []model.Competitor
	err = e.inTx(ctx, "list_competitors", func(ctx context.Context, tx repository.Tx) error {
		if _, err := e.loadClient(ctx, tx, clientID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListCompetitors(ctx, clientID)
		return err
	})
	return out, err
}

// GenerateInsights is a placeholder: it waits the configured delay and
// acknowledges. It reads and writes nothing. Cancelling ctx returns ctx.Err().
func (e *Engine) GenerateInsights(ctx context.Context, clientID string) (*model.InsightAck, error) {
	timer := time.NewTimer(e.opts.InsightDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	logger.WithTrace(ctx, e.logger).Debug("Insight placeholder acknowledged", zap.String("client_id", clientID))
	return &model.InsightAck{
		ClientID:    clientID,
		Message:     insightMessage,
		GeneratedAt: e.now(),
	}, nil
}
