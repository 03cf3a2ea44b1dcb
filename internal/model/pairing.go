package model

import (
	"time"
)

type PairingCode struct {
	Code        string       `db:"code" json:"code"`
	SubjectID   string       `db:"subject_id" json:"subjectId"`
	Status      CodeStatus   `db:"status" json:"status"`
	MaxUses     int          `db:"max_uses" json:"maxUses"`
	UseCount    int          `db:"use_count" json:"useCount"`
	UsedBy      *string      `db:"used_by" json:"usedBy,omitempty"`
	UsedAt      *time.Time   `db:"used_at" json:"usedAt,omitempty"`
	RevokedAt   *time.Time   `db:"revoked_at" json:"revokedAt,omitempty"`
	ShareMethod ShareMethod  `db:"share_method" json:"shareMethod"`
	Grant       *Permissions `db:"grant_permissions" json:"grant,omitempty"`
	ExpiresAt   time.Time    `db:"expires_at" json:"expiresAt"`
	CreatedAt   time.Time    `db:"created_at" json:"createdAt"`
}

type CreatePairingCodeParams struct {
	Code        string
	SubjectID   string
	MaxUses     int
	ShareMethod ShareMethod
	Grant       *Permissions
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// IsExpired reports whether the code's deadline has passed at now.
func (c *PairingCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Exhausted reports whether the code can no longer be redeemed regardless of expiry.
func (c *PairingCode) Exhausted() bool {
	if c.Status != CodeStatusPending {
		return true
	}
	if c.MaxUses <= 1 {
		return c.UsedBy != nil
	}
	return c.UseCount >= c.MaxUses
}
