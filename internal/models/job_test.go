package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimelineKeepsOrderAndFields(t *testing.T) {
	draft := StatusDraft
	note := "auto"
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	history := []StatusHistoryEntry{
		{ID: 1, JobID: "j", NewStatus: StatusDraft, ChangedAt: at, ChangedBy: ActorAdmin},
		{ID: 2, JobID: "j", OldStatus: &draft, NewStatus: StatusOfferedToVendor, ChangedAt: at.Add(time.Second), ChangedBy: ActorAdmin, Comment: &note, AutoTransitioned: true},
	}

	got := Timeline(history)
	assert.Equal(t, []TimelineEntry{
		{Status: StatusDraft, ChangedAt: at, ChangedBy: ActorAdmin},
		{Status: StatusOfferedToVendor, ChangedAt: at.Add(time.Second), ChangedBy: ActorAdmin, Comment: &note, AutoTransitioned: true},
	}, got)
	assert.Empty(t, Timeline(nil))
}

func TestActorValid(t *testing.T) {
	assert.True(t, ActorAdmin.Valid())
	assert.True(t, ActorVendor.Valid())
	assert.False(t, Actor("system").Valid())
}
