package model

import "time"

const (
	SubscriptionTrial    = "trial"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

type Agency struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	CompanyName        string    `json:"company_name"`
	LogoURL            *string   `json:"logo_url,omitempty"`
	SubscriptionStatus string    `json:"subscription_status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
