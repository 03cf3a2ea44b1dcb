package model

// Action names a privileged capability a controller may invoke. Each action
// is backed by the permission flag of the same name.
type Action string

const (
	ActionViewData          Action = "viewData"
	ActionControlState      Action = "controlState"
	ActionManageTasks       Action = "manageTasks"
	ActionEditSettings      Action = "editSettings"
	ActionEmergencyOverride Action = "emergencyOverride"
	ActionForceEnd          Action = "forceEnd"
	ActionViewAuditLog      Action = "viewAuditLog"
	ActionExportData        Action = "exportData"
)

var AllActions = []Action{
	ActionViewData,
	ActionControlState,
	ActionManageTasks,
	ActionEditSettings,
	ActionEmergencyOverride,
	ActionForceEnd,
	ActionViewAuditLog,
	ActionExportData,
}

// ActionCategory is the counter bucket an action is tallied under.
type ActionCategory string

const (
	CategoryViews            ActionCategory = "views"
	CategoryStateChanges     ActionCategory = "stateChanges"
	CategorySettingChanges   ActionCategory = "settingChanges"
	CategoryEmergencyActions ActionCategory = "emergencyActions"
	CategoryExports          ActionCategory = "exports"
)

func (c ActionCategory) Valid() bool {
	switch c {
	case CategoryViews, CategoryStateChanges, CategorySettingChanges, CategoryEmergencyActions, CategoryExports:
		return true
	}
	return false
}

func (a Action) Category() ActionCategory {
	switch a {
	case ActionViewData, ActionViewAuditLog:
		return CategoryViews
	case ActionControlState, ActionManageTasks:
		return CategoryStateChanges
	case ActionEditSettings:
		return CategorySettingChanges
	case ActionEmergencyOverride, ActionForceEnd:
		return CategoryEmergencyActions
	case ActionExportData:
		return CategoryExports
	}
	return ""
}

// GrantFromActions builds a permission set with exactly the named flags on.
func GrantFromActions(actions []Action) (Permissions, bool) {
	var p Permissions
	t := true
	for _, a := range actions {
		patch := PermissionsPatch{}
		switch a {
		case ActionViewData:
			patch.ViewData = &t
		case ActionControlState:
			patch.ControlState = &t
		case ActionManageTasks:
			patch.ManageTasks = &t
		case ActionEditSettings:
			patch.EditSettings = &t
		case ActionEmergencyOverride:
			patch.EmergencyOverride = &t
		case ActionForceEnd:
			patch.ForceEnd = &t
		case ActionViewAuditLog:
			patch.ViewAuditLog = &t
		case ActionExportData:
			patch.ExportData = &t
		default:
			return Permissions{}, false
		}
		p = p.Apply(patch)
	}
	return p, true
}
