package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Style context ownership enums.
const (
	ContextOwnershipPersonal = "personal"
	ContextOwnershipTeam     = "team"
	ContextOwnershipShared   = "shared"
)

// StyleContext is a named, reusable generation configuration. Settings follow
// a package-defined schema and are resolved through the package adapter, so a
// stored blob written by an older release still loads.
type StyleContext struct {
	ID          uuid.UUID       `json:"id"`
	Ownership   string          `json:"ownership"`
	OwnerID     *uuid.UUID      `json:"owner_id,omitempty"`
	PackageID   string          `json:"package_id"`
	StylePreset string          `json:"style_preset"`
	Name        string          `json:"name"`
	Settings    json.RawMessage `json:"settings"`
	CreatedAt   time.Time       `json:"created_at"`
}
