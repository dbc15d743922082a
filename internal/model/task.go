package model

import "time"

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Phase       int        `json:"phase"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	AssignedTo  *string    `json:"assigned_to,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	OrderIndex  int        `json:"order_index"`
	// Seq is the creation order, used to break order_index ties.
	Seq       int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
