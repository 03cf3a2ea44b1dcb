package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/openclaw/link-server-go/internal/config"
)

// Permissions is the fixed set of capabilities a controller may exercise.
type Permissions struct {
	ViewData          bool `json:"viewData"`
	ControlState      bool `json:"controlState"`
	ManageTasks       bool `json:"manageTasks"`
	EditSettings      bool `json:"editSettings"`
	EmergencyOverride bool `json:"emergencyOverride"`
	ForceEnd          bool `json:"forceEnd"`
	ViewAuditLog      bool `json:"viewAuditLog"`
	ExportData        bool `json:"exportData"`
}

func DefaultPermissions() Permissions {
	return Permissions{
		ViewData:     true,
		ControlState: true,
		ManageTasks:  true,
		ViewAuditLog: true,
	}
}

// Allows returns the flag backing action. Unknown actions are never allowed.
func (p Permissions) Allows(action Action) (allowed bool, known bool) {
	switch action {
	case ActionViewData:
		return p.ViewData, true
	case ActionControlState:
		return p.ControlState, true
	case ActionManageTasks:
		return p.ManageTasks, true
	case ActionEditSettings:
		return p.EditSettings, true
	case ActionEmergencyOverride:
		return p.EmergencyOverride, true
	case ActionForceEnd:
		return p.ForceEnd, true
	case ActionViewAuditLog:
		return p.ViewAuditLog, true
	case ActionExportData:
		return p.ExportData, true
	}
	return false, false
}

// Union grants every flag set in either p or other.
func (p Permissions) Union(other Permissions) Permissions {
	return Permissions{
		ViewData:          p.ViewData || other.ViewData,
		ControlState:      p.ControlState || other.ControlState,
		ManageTasks:       p.ManageTasks || other.ManageTasks,
		EditSettings:      p.EditSettings || other.EditSettings,
		EmergencyOverride: p.EmergencyOverride || other.EmergencyOverride,
		ForceEnd:          p.ForceEnd || other.ForceEnd,
		ViewAuditLog:      p.ViewAuditLog || other.ViewAuditLog,
		ExportData:        p.ExportData || other.ExportData,
	}
}

// Apply returns p with the patch's set fields applied.
func (p Permissions) Apply(patch PermissionsPatch) Permissions {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.ViewData, patch.ViewData)
	set(&p.ControlState, patch.ControlState)
	set(&p.ManageTasks, patch.ManageTasks)
	set(&p.EditSettings, patch.EditSettings)
	set(&p.EmergencyOverride, patch.EmergencyOverride)
	set(&p.ForceEnd, patch.ForceEnd)
	set(&p.ViewAuditLog, patch.ViewAuditLog)
	set(&p.ExportData, patch.ExportData)
	return p
}

// Narrow applies only the patch fields that turn a flag off.
func (p Permissions) Narrow(patch PermissionsPatch) Permissions {
	off := func(dst *bool, v *bool) {
		if v != nil && !*v {
			*dst = false
		}
	}
	off(&p.ViewData, patch.ViewData)
	off(&p.ControlState, patch.ControlState)
	off(&p.ManageTasks, patch.ManageTasks)
	off(&p.EditSettings, patch.EditSettings)
	off(&p.EmergencyOverride, patch.EmergencyOverride)
	off(&p.ForceEnd, patch.ForceEnd)
	off(&p.ViewAuditLog, patch.ViewAuditLog)
	off(&p.ExportData, patch.ExportData)
	return p
}

func (p Permissions) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Permissions) Scan(src any) error {
	return scanJSON(src, p)
}

type PermissionsPatch struct {
	ViewData          *bool `json:"viewData,omitempty"`
	ControlState      *bool `json:"controlState,omitempty"`
	ManageTasks       *bool `json:"manageTasks,omitempty"`
	EditSettings      *bool `json:"editSettings,omitempty"`
	EmergencyOverride *bool `json:"emergencyOverride,omitempty"`
	ForceEnd          *bool `json:"forceEnd,omitempty"`
	ViewAuditLog      *bool `json:"viewAuditLog,omitempty"`
	ExportData        *bool `json:"exportData,omitempty"`
}

type SecurityPolicy struct {
	SessionTimeoutMinutes int      `json:"sessionTimeoutMinutes"`
	RequireReauth         bool     `json:"requireReauth"`
	AuditLogEnabled       bool     `json:"auditLogEnabled"`
	IPRestrictions        []string `json:"ipRestrictions"`
}

const (
	MinSessionTimeoutMinutes = config.MinSessionTimeoutMinutes
	MaxSessionTimeoutMinutes = config.MaxSessionTimeoutMinutes
)

func DefaultSecurityPolicy(timeoutMinutes int) SecurityPolicy {
	return SecurityPolicy{
		SessionTimeoutMinutes: timeoutMinutes,
		RequireReauth:         true,
		AuditLogEnabled:       true,
		IPRestrictions:        []string{},
	}
}

func (s SecurityPolicy) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SecurityPolicy) Scan(src any) error {
	return scanJSON(src, s)
}

type SecurityPatch struct {
	SessionTimeoutMinutes *int      `json:"sessionTimeoutMinutes,omitempty"`
	RequireReauth         *bool     `json:"requireReauth,omitempty"`
	AuditLogEnabled       *bool     `json:"auditLogEnabled,omitempty"`
	IPRestrictions        *[]string `json:"ipRestrictions,omitempty"`
}

func (s SecurityPolicy) Apply(patch SecurityPatch) SecurityPolicy {
	if patch.SessionTimeoutMinutes != nil {
		s.SessionTimeoutMinutes = *patch.SessionTimeoutMinutes
	}
	if patch.RequireReauth != nil {
		s.RequireReauth = *patch.RequireReauth
	}
	if patch.AuditLogEnabled != nil {
		s.AuditLogEnabled = *patch.AuditLogEnabled
	}
	if patch.IPRestrictions != nil {
		s.IPRestrictions = append([]string{}, (*patch.IPRestrictions)...)
	}
	return s
}

type PrivacyPolicy struct {
	SubjectCanSeeControllerActions bool `json:"subjectCanSeeControllerActions"`
	ControllerCanSeePrivateNotes   bool `json:"controllerCanSeePrivateNotes"`
	ShareStatistics                bool `json:"shareStatistics"`
	RetainDataAfterDisconnect      bool `json:"retainDataAfterDisconnect"`
	AnonymizeHistoricalData        bool `json:"anonymizeHistoricalData"`
}

func DefaultPrivacyPolicy() PrivacyPolicy {
	return PrivacyPolicy{
		SubjectCanSeeControllerActions: true,
		ShareStatistics:                true,
	}
}

func (p PrivacyPolicy) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *PrivacyPolicy) Scan(src any) error {
	return scanJSON(src, p)
}

type PrivacyPatch struct {
	SubjectCanSeeControllerActions *bool `json:"subjectCanSeeControllerActions,omitempty"`
	ControllerCanSeePrivateNotes   *bool `json:"controllerCanSeePrivateNotes,omitempty"`
	ShareStatistics                *bool `json:"shareStatistics,omitempty"`
	RetainDataAfterDisconnect      *bool `json:"retainDataAfterDisconnect,omitempty"`
	AnonymizeHistoricalData        *bool `json:"anonymizeHistoricalData,omitempty"`
}

func (p PrivacyPolicy) Apply(patch PrivacyPatch) PrivacyPolicy {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.SubjectCanSeeControllerActions, patch.SubjectCanSeeControllerActions)
	set(&p.ControllerCanSeePrivateNotes, patch.ControllerCanSeePrivateNotes)
	set(&p.ShareStatistics, patch.ShareStatistics)
	set(&p.RetainDataAfterDisconnect, patch.RetainDataAfterDisconnect)
	set(&p.AnonymizeHistoricalData, patch.AnonymizeHistoricalData)
	return p
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}
