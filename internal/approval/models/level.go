package models

import (
	"time"
)

// Role names a group of identities allowed to sign off a level.
type Role string

// Level is one named stage of a sign-off chain.
type Level struct {
	Name          string `json:"name" yaml:"name"`
	ApproverRoles []Role `json:"approver_roles" yaml:"approver_roles"`
	Required      bool   `json:"required" yaml:"required"`
	// TimeoutHours of zero inherits the configuration default.
	TimeoutHours int `json:"timeout_hours" yaml:"timeout_hours"`
	Order        int `json:"order" yaml:"order"`
}

// HasApproverRole reports whether any of roles may act on this level.
func (l Level) HasApproverRole(roles []string) bool {
	for _, want := range l.ApproverRoles {
		for _, have := range roles {
			if string(want) == have {
				return true
			}
		}
	}
	return false
}

// Timeout returns the level's window, falling back to defaultHours.
func (l Level) Timeout(defaultHours int) time.Duration {
	hours := l.TimeoutHours
	if hours <= 0 {
		hours = defaultHours
	}
	return time.Duration(hours) * time.Hour
}

// RoleStrings converts roles for storage and identity matching.
func RoleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// RolesFromStrings is the inverse of RoleStrings.
func RolesFromStrings(values []string) []Role {
	out := make([]Role, len(values))
	for i, v := range values {
		out[i] = Role(v)
	}
	return out
}
