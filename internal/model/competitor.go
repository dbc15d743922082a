package model

import "time"

type Competitor struct {
	ID              string    `json:"id"`
	ClientID        string    `json:"client_id"`
	AgencyID        string    `json:"agency_id"`
	BusinessName    string    `json:"business_name"`
	WebsiteURL      string    `json:"website_url"`
	ReviewCount     int       `json:"review_count"`
	AverageRating   *float64  `json:"average_rating,omitempty"`
	Strengths       string    `json:"strengths"`
	Weaknesses      string    `json:"weaknesses"`
	RankingPosition *int      `json:"ranking_position,omitempty"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
	CreatedAt       time.Time `json:"created_at"`
}

type CompetitorFields struct {
	BusinessName    string   `json:"business_name"`
	WebsiteURL      string   `json:"website_url"`
	ReviewCount     int      `json:"review_count"`
	AverageRating   *float64 `json:"average_rating,omitempty"`
	Strengths       string   `json:"strengths"`
	Weaknesses      string   `json:"weaknesses"`
	RankingPosition *int     `json:"ranking_position,omitempty"`
}

// InsightAck is what the insight placeholder hands back.
type InsightAck struct {
	ClientID    string    `json:"client_id"`
	Message     string    `json:"message"`
	GeneratedAt time.Time `json:"generated_at"`
}
