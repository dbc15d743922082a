package model

import "time"

type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientPaused   ClientStatus = "paused"
	ClientArchived ClientStatus = "archived"
)

func (s ClientStatus) Valid() bool {
	switch s {
	case ClientActive, ClientPaused, ClientArchived:
		return true
	}
	return false
}

// ServiceTypes is the fixed set of businesses the blueprint supports.
var ServiceTypes = []string{
	"Plumbing",
	"HVAC",
	"Electrical",
	"Roofing",
	"Landscaping",
	"Auto Repair",
	"Cleaning Services",
	"Home Renovation",
	"Pest Control",
	"Locksmith",
	"Other",
}

func IsServiceType(s string) bool {
	for _, t := range ServiceTypes {
		if t == s {
			return true
		}
	}
	return false
}

type Client struct {
	ID           string       `json:"id"`
	AgencyID     string       `json:"agency_id"`
	BusinessName string       `json:"business_name"`
	ServiceType  string       `json:"service_type"`
	Location     string       `json:"location"`
	Phone        *string      `json:"phone,omitempty"`
	Email        *string      `json:"email,omitempty"`
	WebsiteURL   *string      `json:"website_url,omitempty"`
	Status       ClientStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ClientFields is the caller-supplied part of a Client.
type ClientFields struct {
	BusinessName string  `json:"business_name"`
	ServiceType  string  `json:"service_type"`
	Location     string  `json:"location"`
	Phone        *string `json:"phone,omitempty"`
	Email        *string `json:"email,omitempty"`
	WebsiteURL   *string `json:"website_url,omitempty"`
}
