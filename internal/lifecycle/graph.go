// Package lifecycle owns job status transitions: the status graph, the
// transactional executor, and the admin and vendor operations built on it.
//
// Status graph:
//
//	Draft ──► Offered to Vendor ◄──► Offer Rejected
//	                │
//	                ▼
//	          Offer Accepted ──► Started ◄──► Hold
//	                             ▲     │
//	                             │     ▼
//	       Completion Rejected ──┘  Completed ──► Completion Accepted
//	                ▲                  │
//	                └──────────────────┘
//
// Every status other than Completed, Completion Accepted and Cancelled can
// also move to Cancelled. Completion Accepted and Cancelled are terminal.
package lifecycle

import "agency-ops/internal/models"

// transitions lists every allowed (from -> to) pair. Terminal statuses map to nothing.
var transitions = map[models.Status][]models.Status{
	models.StatusDraft:              {models.StatusOfferedToVendor, models.StatusCancelled},
	models.StatusOfferedToVendor:    {models.StatusOfferAccepted, models.StatusOfferRejected, models.StatusCancelled},
	models.StatusOfferAccepted:      {models.StatusStarted, models.StatusCancelled},
	models.StatusOfferRejected:      {models.StatusOfferedToVendor, models.StatusCancelled},
	models.StatusStarted:            {models.StatusCompleted, models.StatusHold, models.StatusCancelled},
	models.StatusHold:               {models.StatusStarted, models.StatusCancelled},
	models.StatusCompleted:          {models.StatusCompletionAccepted, models.StatusCompletionRejected},
	models.StatusCompletionAccepted: {},
	models.StatusCompletionRejected: {models.StatusStarted, models.StatusCancelled},
	models.StatusCancelled:          {},
}

var statusOrder = []models.Status{
	models.StatusDraft,
	models.StatusOfferedToVendor,
	models.StatusOfferAccepted,
	models.StatusOfferRejected,
	models.StatusStarted,
	models.StatusHold,
	models.StatusCompleted,
	models.StatusCompletionAccepted,
	models.StatusCompletionRejected,
	models.StatusCancelled,
}

// Statuses returns every known status in lifecycle order.
func Statuses() []models.Status {
	out := make([]models.Status, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// Known reports whether s is a member of the status set.
func Known(s models.Status) bool {
	_, ok := transitions[s]
	return ok
}

// Allowed returns the statuses directly reachable from s.
func Allowed(from models.Status) []models.Status {
	next := transitions[from]
	out := make([]models.Status, len(next))
	copy(out, next)
	return out
}

// IsAllowed reports whether the graph permits moving from -> to.
func IsAllowed(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s models.Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Validate returns ErrAlreadyInStatus for a no-op request and
// ErrIllegalTransition when the graph has no edge from -> to.
func Validate(from, to models.Status) error {
	if from == to {
		return alreadyIn(from)
	}
	if !IsAllowed(from, to) {
		return illegal(from, to)
	}
	return nil
}
