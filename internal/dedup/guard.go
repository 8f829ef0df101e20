// Package dedup decides whether an incoming raw record creates, updates, or
// skips a catalog row, keyed by the record's normalized external identifier.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirshapkota/research-index/internal/domain"
)

// Action is the outcome of a dedup check for one raw record.
type Action int

const (
	// ActionCreate means no matching catalog record exists.
	ActionCreate Action = iota

	// ActionSkip means a matching record exists and force-refresh is off.
	ActionSkip

	// ActionUpdate means a matching record exists and force-refresh is on.
	ActionUpdate
)

// String returns the action name for logging.
func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionSkip:
		return "skip"
	case ActionUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Decision pairs an action with the existing record it applies to.
// Existing is nil for ActionCreate.
type Decision struct {
	Action   Action
	Existing *domain.Publication
}

// IdentifierLookup finds a catalog record by its external identifier.
// Implementations must match case-insensitively.
type IdentifierLookup interface {
	FindByDOI(ctx context.Context, doi string) (*domain.Publication, error)
}

// Guard performs identifier-based duplicate checks.
type Guard struct {
	lookup IdentifierLookup
}

// NewGuard creates a new dedup guard.
func NewGuard(lookup IdentifierLookup) *Guard {
	return &Guard{lookup: lookup}
}

// Decide determines how the pipeline should handle a record with the given
// external identifier.
//
// Records without an identifier are always create candidates: with no dedup
// key there is nothing to match against, an accepted data-quality edge case
// rather than an error. When a match exists the record is skipped, unless
// forceRefresh is set, in which case the existing row is updated in place.
func (g *Guard) Decide(ctx context.Context, doi string, forceRefresh bool) (Decision, error) {
	normalized := domain.NormalizeDOI(doi)
	if normalized == "" {
		return Decision{Action: ActionCreate}, nil
	}

	existing, err := g.lookup.FindByDOI(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Decision{Action: ActionCreate}, nil
		}
		return Decision{}, fmt.Errorf("dedup lookup for %s: %w", normalized, err)
	}

	if forceRefresh {
		return Decision{Action: ActionUpdate, Existing: existing}, nil
	}
	return Decision{Action: ActionSkip, Existing: existing}, nil
}
