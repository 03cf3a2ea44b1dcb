package model

type CodeStatus string

const (
	CodeStatusPending CodeStatus = "pending"
	CodeStatusUsed    CodeStatus = "used"
	CodeStatusExpired CodeStatus = "expired"
	CodeStatusRevoked CodeStatus = "revoked"
)

type ShareMethod string

const (
	ShareMethodManual ShareMethod = "manual"
	ShareMethodQR     ShareMethod = "qr"
	ShareMethodLink   ShareMethod = "link"
)

func (m ShareMethod) Valid() bool {
	switch m {
	case ShareMethodManual, ShareMethodQR, ShareMethodLink:
		return true
	}
	return false
}

type RelationshipStatus string

const (
	RelationshipStatusActive     RelationshipStatus = "active"
	RelationshipStatusTerminated RelationshipStatus = "terminated"
)

// Party identifies which side of a relationship acted.
type Party string

const (
	PartyController Party = "controller"
	PartySubject    Party = "subject"
)

type SessionEndReason string

const (
	EndReasonExplicit               SessionEndReason = "explicit"
	EndReasonTimeout                SessionEndReason = "timeout"
	EndReasonRelationshipTerminated SessionEndReason = "relationship_terminated"
)
