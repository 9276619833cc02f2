package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PreferenceFlag names one push-enabled column of the preference record.
type PreferenceFlag string

const (
	FlagPushSignals  PreferenceFlag = "push_signals"
	FlagPushEvents   PreferenceFlag = "push_events"
	FlagPushAnalyses PreferenceFlag = "push_analyses"
	FlagPushCourses  PreferenceFlag = "push_courses"
)

// preferenceFlags maps each type to exactly one flag. The announcement and system
// column names come from the existing preference schema.
var preferenceFlags = map[NotificationType]PreferenceFlag{
	TypeSignal:       FlagPushSignals,
	TypeEvent:        FlagPushEvents,
	TypeAnnouncement: FlagPushAnalyses,
	TypeSystem:       FlagPushCourses,
}

// PreferenceFlagFor returns the flag gating push for t.
func PreferenceFlagFor(t NotificationType) (PreferenceFlag, bool) {
	f, ok := preferenceFlags[t]
	return f, ok
}

// FlagState is the three-way value of a stored flag.
type FlagState int

const (
	FlagAbsent FlagState = iota
	FlagEnabled
	FlagDisabled
)

// AllowsPush is fail-open: only an explicit false suppresses.
func (s FlagState) AllowsPush() bool {
	return s != FlagDisabled
}

func (s FlagState) String() string {
	switch s {
	case FlagEnabled:
		return "enabled"
	case FlagDisabled:
		return "disabled"
	default:
		return "absent"
	}
}

// PushPreferences is the per-user preference record. A nil flag means the user never set it.
type PushPreferences struct {
	UserID       uuid.UUID `json:"user_id"`
	PushSignals  *bool     `json:"push_signals"`
	PushEvents   *bool     `json:"push_events"`
	PushAnalyses *bool     `json:"push_analyses"`
	PushCourses  *bool     `json:"push_courses"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Flag reads one flag. A nil record reads as absent.
func (p *PushPreferences) Flag(f PreferenceFlag) FlagState {
	if p == nil {
		return FlagAbsent
	}
	var v *bool
	switch f {
	case FlagPushSignals:
		v = p.PushSignals
	case FlagPushEvents:
		v = p.PushEvents
	case FlagPushAnalyses:
		v = p.PushAnalyses
	case FlagPushCourses:
		v = p.PushCourses
	}
	switch {
	case v == nil:
		return FlagAbsent
	case *v:
		return FlagEnabled
	default:
		return FlagDisabled
	}
}

type PreferenceRepository interface {
	// GetPushPreferences returns ErrNotFound when the user has no record.
	GetPushPreferences(ctx context.Context, userID uuid.UUID) (*PushPreferences, error)
	UpsertPushPreferences(ctx context.Context, prefs *PushPreferences) (*PushPreferences, error)
}
