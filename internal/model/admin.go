package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ActionCounters is the per-session audit tally.
type ActionCounters struct {
	Views            int `json:"views"`
	StateChanges     int `json:"stateChanges"`
	SettingChanges   int `json:"settingChanges"`
	EmergencyActions int `json:"emergencyActions"`
	Exports          int `json:"exports"`
}

func (c ActionCounters) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *ActionCounters) Scan(src any) error {
	return scanJSON(src, c)
}

// Increment bumps the counter for category. Unknown categories are ignored.
func (c *ActionCounters) Increment(category ActionCategory) bool {
	switch category {
	case CategoryViews:
		c.Views++
	case CategoryStateChanges:
		c.StateChanges++
	case CategorySettingChanges:
		c.SettingChanges++
	case CategoryEmergencyActions:
		c.EmergencyActions++
	case CategoryExports:
		c.Exports++
	default:
		return false
	}
	return true
}

type AdminSession struct {
	ID             string            `db:"id" json:"id"`
	RelationshipID string            `db:"relationship_id" json:"relationshipId"`
	ControllerID   string            `db:"controller_id" json:"controllerId"`
	SubjectID      string            `db:"subject_id" json:"subjectId"`
	IsActive       bool              `db:"is_active" json:"isActive"`
	Actions        ActionCounters    `db:"actions" json:"actions"`
	StartedAt      time.Time         `db:"started_at" json:"startedAt"`
	LastActivityAt time.Time         `db:"last_activity_at" json:"lastActivityAt"`
	ExpiresAt      time.Time         `db:"expires_at" json:"expiresAt"`
	EndedAt        *time.Time        `db:"ended_at" json:"endedAt,omitempty"`
	EndReason      *SessionEndReason `db:"end_reason" json:"endReason,omitempty"`
}

// IsExpired reports whether the session can no longer be used at now.
func (s *AdminSession) IsExpired(now time.Time) bool {
	return !s.IsActive || !now.Before(s.ExpiresAt)
}

// Remaining returns the time left before the hard deadline, never negative.
func (s *AdminSession) Remaining(now time.Time) time.Duration {
	if !s.IsActive {
		return 0
	}
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

type CreateAdminSessionParams struct {
	ID             string
	RelationshipID string
	ControllerID   string
	SubjectID      string
	StartedAt      time.Time
	ExpiresAt      time.Time
}
