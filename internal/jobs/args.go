package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/framelight/backend/internal/models"
)

// MaxAttempts bounds provider retries. River applies exponential backoff
// between attempts.
const MaxAttempts = 3

// Queue priorities. Lower is served first; priority is a scheduling hint,
// river never starves a lower-priority job indefinitely.
const (
	PriorityTeam    = 1
	PriorityDefault = 2
)

// GeneratePhotoArgs is the durable queue payload for one generation. It is a
// denormalized snapshot (selfie keys, resolved settings, prompt, provider
// options, credit source) so the worker needs no second read of mutable state
// at dequeue time.
type GeneratePhotoArgs struct {
	GenerationID    uuid.UUID       `json:"generation_id"`
	OwnerPersonID   uuid.UUID       `json:"owner_person_id"`
	OwnerTeamID     *uuid.UUID      `json:"owner_team_id,omitempty"`
	Title           string          `json:"title"`
	PrimaryInputKey string          `json:"primary_input_key"`
	InputImageKeys  []string        `json:"input_image_keys,omitempty"`
	StyleSettings   json.RawMessage `json:"style_settings"`
	Prompt          string          `json:"prompt"`
	ProviderModel   string          `json:"provider_model"`
	Variations      int             `json:"variations"`
	CreditSource    string          `json:"credit_source"`
}

func (GeneratePhotoArgs) Kind() string { return "generate_photo" }

func (GeneratePhotoArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: MaxAttempts}
}

// KeyFor is the deterministic dedupe key tying a queue job to its generation.
func KeyFor(generationID uuid.UUID) string {
	return "gen-" + generationID.String()
}

// PriorityFor elevates team/bulk flows over default individual requests.
func PriorityFor(creditSource string) int {
	if creditSource == models.CreditSourceTeam {
		return PriorityTeam
	}
	return PriorityDefault
}
