package domain

import (
	"math"
	"time"
)

// EntityKind distinguishes the two pipeline entity collections.
type EntityKind string

const (
	EntityLead EntityKind = "lead"
	EntityDeal EntityKind = "deal"
)

// Trigger sources recorded on history entries.
const (
	TriggeredByManual   = "manual"
	TriggeredBySystem   = "system"
	TriggeredByActivity = "activity"
)

// StageHistoryEntry is one stage occupancy interval. Entries are immutable
// once ExitedAt is set.
type StageHistoryEntry struct {
	Stage           string     `bson:"stage"`
	EnteredAt       time.Time  `bson:"enteredAt"`
	ExitedAt        *time.Time `bson:"exitedAt,omitempty"`
	DaysInStage     *int       `bson:"daysInStage,omitempty"`
	TriggeredBy     string     `bson:"triggeredBy"`
	FromStage       string     `bson:"fromStage,omitempty"`
	ActivityType    string     `bson:"activityType,omitempty"`
	Outcome         string     `bson:"outcome,omitempty"`
	Reason          string     `bson:"reason,omitempty"`
	ActivityID      string     `bson:"activityId,omitempty"`
	TriggeredByUser string     `bson:"triggeredByUser,omitempty"`
}

// IsOpen reports whether the entry describes the current stage.
func (e StageHistoryEntry) IsOpen() bool { return e.ExitedAt == nil }

// TransitionContext is the audit metadata attached to a new entry.
type TransitionContext struct {
	TriggeredBy     string
	FromStage       string
	ActivityType    string
	Outcome         string
	Reason          string
	ActivityID      string
	TriggeredByUser string
}

// HistorySnapshot is the part of a lead or deal the ledger reads.
// StageSyncReason is only set on deals.
type HistorySnapshot struct {
	Stage           StageRef
	StageSyncReason string
	StageChangedAt  *time.Time
	CreatedAt       time.Time
	History         []StageHistoryEntry
}

// AppendTransition closes the open last entry (if any) at now and appends
// a new open entry for stage. The input slice is not modified.
//
// The open entry's enteredAt falls back to stageChangedAt and then to the
// entity's creation time for records written before enteredAt existed.
func AppendTransition(snap HistorySnapshot, stage string, tc TransitionContext, now time.Time) []StageHistoryEntry {
	out := make([]StageHistoryEntry, len(snap.History), len(snap.History)+1)
	copy(out, snap.History)

	if n := len(out); n > 0 && out[n-1].IsOpen() {
		last := out[n-1]
		entered := last.EnteredAt
		if entered.IsZero() && snap.StageChangedAt != nil {
			entered = *snap.StageChangedAt
		}
		if entered.IsZero() {
			entered = snap.CreatedAt
		}
		exited := now
		days := DaysBetween(entered, now)
		last.ExitedAt = &exited
		last.DaysInStage = &days
		out[n-1] = last
	}

	triggeredBy := tc.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = TriggeredByManual
	}

	return append(out, StageHistoryEntry{
		Stage:           stage,
		EnteredAt:       now,
		TriggeredBy:     triggeredBy,
		FromStage:       tc.FromStage,
		ActivityType:    tc.ActivityType,
		Outcome:         tc.Outcome,
		Reason:          tc.Reason,
		ActivityID:      tc.ActivityID,
		TriggeredByUser: tc.TriggeredByUser,
	})
}

// DaysBetween returns whole days from start to end, never negative.
func DaysBetween(start, end time.Time) int {
	if start.IsZero() || !end.After(start) {
		return 0
	}
	return int(math.Floor(end.Sub(start).Hours() / 24))
}

// OpenEntryCount counts entries without ExitedAt. A healthy ledger has at
// most one and it is the last entry.
func OpenEntryCount(history []StageHistoryEntry) int {
	n := 0
	for _, e := range history {
		if e.IsOpen() {
			n++
		}
	}
	return n
}
