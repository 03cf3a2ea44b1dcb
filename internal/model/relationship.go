package model

import (
	"time"
)

type Relationship struct {
	ID                string             `db:"id" json:"id"`
	ControllerID      string             `db:"controller_id" json:"controllerId"`
	SubjectID         string             `db:"subject_id" json:"subjectId"`
	Status            RelationshipStatus `db:"status" json:"status"`
	LinkMethod        string             `db:"link_method" json:"linkMethod"`
	PairingCode       string             `db:"pairing_code" json:"-"`
	Permissions       Permissions        `db:"permissions" json:"permissions"`
	Security          SecurityPolicy     `db:"security" json:"security"`
	Privacy           PrivacyPolicy      `db:"privacy" json:"privacy"`
	EstablishedAt     time.Time          `db:"established_at" json:"establishedAt"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updatedAt"`
	TerminatedAt      *time.Time         `db:"terminated_at" json:"terminatedAt,omitempty"`
	TerminatedBy      *Party             `db:"terminated_by" json:"terminatedBy,omitempty"`
	TerminationReason *string            `db:"termination_reason" json:"terminationReason,omitempty"`
}

// PartyOf returns the role userID plays in the relationship.
func (r *Relationship) PartyOf(userID string) (Party, bool) {
	switch userID {
	case r.ControllerID:
		return PartyController, true
	case r.SubjectID:
		return PartySubject, true
	}
	return "", false
}

func (r *Relationship) IsActive() bool {
	return r.Status == RelationshipStatusActive
}

func (r *Relationship) SessionTimeout() time.Duration {
	return time.Duration(r.Security.SessionTimeoutMinutes) * time.Minute
}

type CreateRelationshipParams struct {
	ID            string
	ControllerID  string
	SubjectID     string
	LinkMethod    string
	PairingCode   string
	Permissions   Permissions
	Security      SecurityPolicy
	Privacy       PrivacyPolicy
	EstablishedAt time.Time
}

// UpdatePolicyParams replaces the subject-owned policy columns.
type UpdatePolicyParams struct {
	Permissions Permissions
	Security    SecurityPolicy
	Privacy     PrivacyPolicy
	UpdatedAt   time.Time
}

type TerminateRelationshipParams struct {
	TerminatedBy Party
	Reason       string
	TerminatedAt time.Time
}

// RelationshipPatch is the caller-facing update document.
type RelationshipPatch struct {
	Permissions       *PermissionsPatch   `json:"permissions,omitempty"`
	Security          *SecurityPatch      `json:"security,omitempty"`
	Privacy           *PrivacyPatch       `json:"privacy,omitempty"`
	Status            *RelationshipStatus `json:"status,omitempty"`
	TerminationReason *string             `json:"terminationReason,omitempty"`
}

func (p RelationshipPatch) TouchesPolicy() bool {
	return p.Permissions != nil || p.Security != nil || p.Privacy != nil
}
