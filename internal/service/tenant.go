package service

import (
	"context"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	contractmq "localrank/contracts/mq"
	"localrank/internal/model"
	"localrank/internal/repository"
	"localrank/pkg/logger"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

// CreateAgency registers a new agency on the trial subscription.
func (e *Engine) CreateAgency(ctx context.Context, email, companyName string, logoURL *string) (_ *model.Agency, err error) {
	defer e.observe(ctx, "create_agency", &err)

	email = strings.TrimSpace(email)
	companyName = strings.TrimSpace(companyName)
	if _, perr := mail.ParseAddress(email); perr != nil {
		return nil, invalid("email is invalid")
	}
	if companyName == "" {
		return nil, invalid("company_name is required")
	}

	now := e.now()
	a := &model.Agency{
		ID:                 e.newID(),
		Email:              email,
		CompanyName:        companyName,
		LogoURL:            logoURL,
		SubscriptionStatus: model.SubscriptionTrial,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = e.inTx(ctx, "create_agency", func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertAgency(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, e.logger).Info("Agency created", zap.String("agency_id", a.ID))
	return a, nil
}

func validateClientFields(f model.ClientFields) error {
	if strings.TrimSpace(f.BusinessName) == "" {
		return invalid("business_name is required")
	}
	if !model.IsServiceType(f.ServiceType) {
		return invalid("service_type %q is not supported", f.ServiceType)
	}
	if strings.TrimSpace(f.Location) == "" {
		return invalid("location is required")
	}
	if f.Email != nil && *f.Email != "" {
		if _, err := mail.ParseAddress(*f.Email); err != nil {
			return invalid("email is invalid")
		}
	}
	return nil
}

// CreateClient adds a client business to an agency.
func (e *Engine) CreateClient(ctx context.Context, agencyID string, f model.ClientFields) (_ *model.Client, err error) {
	defer e.observe(ctx, "create_client", &err)

	if err := validateClientFields(f); err != nil {
		return nil, err
	}
	if err := authorize(ctx, "agency", agencyID, agencyID); err != nil {
		return nil, err
	}

	now := e.now()
	c := &model.Client{
		ID:           e.newID(),
		AgencyID:     agencyID,
		BusinessName: strings.TrimSpace(f.BusinessName),
		ServiceType:  f.ServiceType,
		Location:     strings.TrimSpace(f.Location),
		Phone:        f.Phone,
		Email:        f.Email,
		WebsiteURL:   f.WebsiteURL,
		Status:       model.ClientActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = e.inTx(ctx, "create_client", func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetAgency(ctx, agencyID); err != nil {
			return notFound(err, "agency", agencyID)
		}
		if err := tx.InsertClient(ctx, c); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, contractmq.ClientCreated, "client", c.ID, c.AgencyID, c.ID,
			contractmq.ClientCreatedPayload{
				ClientID:     c.ID,
				BusinessName: c.BusinessName,
				ServiceType:  c.ServiceType,
				Location:     c.Location,
			}, now)
	})
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, e.logger).Info("Client created",
		zap.String("agency_id", agencyID),
		zap.String("client_id", c.ID),
	)
	return c, nil
}

func (e *Engine) UpdateClientStatus(ctx context.Context, clientID string, status model.ClientStatus) (_ *model.Client, err error) {
	defer e.observe(ctx, "update_client_status", &err)

	if !status.Valid() {
		return nil, invalid("status %q is not supported", status)
	}

	var c *model.Client
	err = e.inTx(ctx, "update_client_status", func(ctx context.Context, tx repository.Tx) error {
		var err error
		if c, err = e.loadClient(ctx, tx, clientID); err != nil {
			return err
		}
		if c.Status == status {
			return nil
		}
		now := e.now()
		if err := tx.UpdateClientStatus(ctx, clientID, status, now); err != nil {
			return err
		}
		c.Status = status
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListClients returns an agency's clients in creation order.
func (e *Engine) ListClients(ctx context.Context, agencyID string) (_ []model.Client, err error) {
	defer e.observe(ctx, "list_clients", &err)

	if err := authorize(ctx, "agency", agencyID, agencyID); err != nil {
		return nil, err
	}
	var clients []model.Client
	err = e.inTx(ctx, "list_clients", func(ctx context.Context, tx repository.Tx) error {
		var err error
		clients, err = tx.ListClients(ctx, agencyID)
		return err
	})
	return clients, err
}

func (e *Engine) GetClient(ctx context.Context, clientID string) (_ *model.Client, err error) {
	defer e.observe(ctx, "get_client", &err)

	var c *model.Client
	err = e.inTx(ctx, "get_client", func(ctx context.Context, tx repository.Tx) error {
		var err error
		c, err = e.loadClient(ctx, tx, clientID)
		return err
	})
	return c, err
}

// ListActivity returns the agency's most recent engagement events, newest first.
func (e *Engine) ListActivity(ctx context.Context, agencyID string, limit int) (_ []model.Activity, err error) {
	defer e.observe(ctx, "list_activity", &err)

	if err := authorize(ctx, "agency", agencyID, agencyID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultActivityLimit
	case limit > maxActivityLimit:
		limit = maxActivityLimit
	}
	var out []model.Activity
	err = e.inTx(ctx, "list_activity", func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.ListActivity(ctx, agencyID, limit)
		return err
	})
	return out, err
}
