package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Generation status enums. A generation only ever moves forward:
// pending -> processing -> completed | failed.
const (
	GenerationStatusPending    = "pending"
	GenerationStatusProcessing = "processing"
	GenerationStatusCompleted  = "completed"
	GenerationStatusFailed     = "failed"
)

// Credit source tags carried on a generation. A team-sourced generation is
// always settled against the team pool, never silently against the person.
const (
	CreditSourceIndividual = "individual"
	CreditSourceTeam       = "team"
)

// Generation is one requested unit of image synthesis and its lifecycle record.
type Generation struct {
	ID            uuid.UUID       `json:"id"`
	OwnerPersonID uuid.UUID       `json:"owner_person_id"`
	OwnerTeamID   *uuid.UUID      `json:"owner_team_id,omitempty"`
	Status        string          `json:"status"`
	CreditSource  string          `json:"credit_source"`
	CreditsUsed   int             `json:"credits_used"`
	Provider      string          `json:"provider"`
	PackageID     string          `json:"package_id"`
	StyleSettings json.RawMessage `json:"style_settings"`
	Prompt        string          `json:"prompt"`

	InputImageKeys  []string `json:"input_image_keys"`
	OutputImageKeys []string `json:"output_image_keys"`

	// Regeneration bookkeeping. Exactly one member of a group is the original
	// and owns the authoritative RemainingRegenerations counter. Regenerations
	// carry CreditsUsed = 0 and MaxRegenerations = 0.
	GenerationGroupID      uuid.UUID `json:"generation_group_id"`
	IsOriginal             bool      `json:"is_original"`
	GroupIndex             int       `json:"group_index"`
	MaxRegenerations       int       `json:"max_regenerations"`
	RemainingRegenerations int       `json:"remaining_regenerations"`

	ErrorMessage *string    `json:"error_message,omitempty"`
	Deleted      bool       `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the stored status is a terminal state. Note the
// status façade applies an extra output-presence gate on top of this.
func (g *Generation) Terminal() bool {
	return g.Status == GenerationStatusCompleted || g.Status == GenerationStatusFailed
}
