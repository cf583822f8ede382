package domain

import "time"

// Team is a routing target for tickets and chats.
type Team struct {
	ID        string
	Slug      string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
