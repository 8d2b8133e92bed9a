package models

import (
	"time"
)

// Status is a job lifecycle state. The string values are stored and displayed verbatim.
type Status string

const (
	StatusDraft              Status = "Draft"
	StatusOfferedToVendor    Status = "Offered to Vendor"
	StatusOfferAccepted      Status = "Offer Accepted"
	StatusOfferRejected      Status = "Offer Rejected"
	StatusStarted            Status = "Started"
	StatusHold               Status = "Hold"
	StatusCompleted          Status = "Completed"
	StatusCompletionAccepted Status = "Completion Accepted"
	StatusCompletionRejected Status = "Completion Rejected"
	StatusCancelled          Status = "Cancelled"
)

func (s Status) String() string { return string(s) }

// Actor identifies which class of caller performed a transition.
type Actor string

const (
	ActorAdmin  Actor = "admin"
	ActorVendor Actor = "vendor"
)

// Valid reports whether a is one of the known actor classes.
func (a Actor) Valid() bool {
	return a == ActorAdmin || a == ActorVendor
}

// Job is a unit of translation work owned by an admin and assigned to a vendor.
type Job struct {
	ID                          string    `json:"id"`
	AdminID                     string    `json:"admin_id"`
	VendorID                    *string   `json:"vendor_id,omitempty"`
	ProjectID                   *string   `json:"project_id,omitempty"`
	Title                       string    `json:"title"`
	Status                      Status    `json:"status"`
	AutoStartOnVendorAcceptance bool      `json:"auto_start_on_vendor_acceptance"`
	CreatedAt                   time.Time `json:"created_at"`
	UpdatedAt                   time.Time `json:"updated_at"`
}

// StatusHistoryEntry is one append-only audit row. OldStatus is nil only for the creation row.
type StatusHistoryEntry struct {
	ID               int64     `json:"id"`
	JobID            string    `json:"job_id"`
	OldStatus        *Status   `json:"old_status"`
	NewStatus        Status    `json:"new_status"`
	ChangedAt        time.Time `json:"changed_at"`
	ChangedBy        Actor     `json:"changed_by"`
	Comment          *string   `json:"comment,omitempty"`
	AutoTransitioned bool      `json:"auto_transitioned"`
}

// TimelineEntry is the read projection of a history row.
type TimelineEntry struct {
	Status           Status    `json:"status"`
	ChangedAt        time.Time `json:"changed_at"`
	ChangedBy        Actor     `json:"changed_by"`
	Comment          *string   `json:"comment,omitempty"`
	AutoTransitioned bool      `json:"auto_transitioned"`
}

// Timeline projects history rows into timeline entries, preserving order.
func Timeline(history []StatusHistoryEntry) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(history))
	for _, h := range history {
		out = append(out, TimelineEntry{
			Status:           h.NewStatus,
			ChangedAt:        h.ChangedAt,
			ChangedBy:        h.ChangedBy,
			Comment:          h.Comment,
			AutoTransitioned: h.AutoTransitioned,
		})
	}
	return out
}
