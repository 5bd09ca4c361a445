package ledger

import (
	"errors"
	"fmt"
)

// Reasons carried by InsufficientCreditsError so the caller can present
// actionable messaging.
const (
	ReasonPersonalShort = "personal_allocation_short"
	ReasonTeamPoolShort = "team_pool_short"
)

// ErrCreditSourceMismatch is returned when a team-sourced reservation is
// attempted without a team scope. The ledger never falls back to personal
// credits on behalf of the caller.
var ErrCreditSourceMismatch = errors.New("credit source does not match generation ownership")

// InsufficientCreditsError is returned when a reservation would drive the
// scope balance negative. No ledger entry is written.
type InsufficientCreditsError struct {
	Scope     Scope
	Required  int
	Available int
	// Reason disambiguates which pool was short. When the team pool is short
	// but the person holds a usable personal allocation, PersonalAvailable is
	// set so the UI can hint at it. This is a hint only; the ledger does not
	// substitute sources.
	Reason            string
	PersonalAvailable int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d (%s)", e.Required, e.Available, e.Reason)
}
