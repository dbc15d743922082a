package model

import "time"

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

type Intent string

const (
	IntentLow    Intent = "low"
	IntentMedium Intent = "medium"
	IntentHigh   Intent = "high"
)

type KeywordType string

const (
	KeywordService   KeywordType = "service"
	KeywordLocation  KeywordType = "location"
	KeywordEmergency KeywordType = "emergency"
)

type Keyword struct {
	ID               string      `json:"id"`
	ClientID         string      `json:"client_id"`
	AgencyID         string      `json:"agency_id"`
	Keyword          string      `json:"keyword"`
	SearchVolume     int         `json:"search_volume"`
	Difficulty       Difficulty  `json:"difficulty"`
	CommercialIntent Intent      `json:"commercial_intent"`
	KeywordType      KeywordType `json:"keyword_type"`
	Priority         int         `json:"priority"`
	CurrentRanking   *int        `json:"current_ranking,omitempty"`
	TargetPage       *string     `json:"target_page,omitempty"`
	// Position is the template index the keyword was generated from.
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}
