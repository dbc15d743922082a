package model

import "time"

// PhaseCount is the number of stages in the engagement blueprint.
const PhaseCount = 6

type Project struct {
	ID           string `json:"id"`
	ClientID     string `json:"client_id"`
	AgencyID     string `json:"agency_id"`
	CurrentPhase int    `json:"current_phase"`
	// PhaseProgress[i] is the progress of phase i+1.
	PhaseProgress [PhaseCount]int `json:"phase_progress"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Progress returns the progress of phase n (1-based), or 0 when out of range.
func (p *Project) Progress(n int) int {
	if n < 1 || n > PhaseCount {
		return 0
	}
	return p.PhaseProgress[n-1]
}
