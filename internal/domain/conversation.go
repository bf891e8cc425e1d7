package domain

import (
	"fmt"
	"time"
)

// Role tags the speaker of a transcript turn.
type Role string

const (
	RoleSystem    Role = "System"
	RoleAssistant Role = "Assistant"
	RoleUser      Role = "User"
)

// ParseRole validates a persisted role value.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleSystem, RoleAssistant, RoleUser:
		return r, nil
	default:
		return "", fmt.Errorf("domain: unknown role %q", s)
	}
}

// ChatRole maps a transcript role onto the model-facing role.
func (r Role) ChatRole() string {
	switch r {
	case RoleAssistant:
		return ChatRoleAssistant
	case RoleUser:
		return ChatRoleUser
	default:
		return ChatRoleSystem
	}
}

// Turn is one message of a dialogue transcript. Seq is the only ordering
// key; At is informational.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Seq     int       `json:"seq"`
	At      time.Time `json:"at"`
}

// Step is a named stage of a guided dialogue.
type Step struct {
	ID       string `json:"id" yaml:"id"`
	Template string `json:"template" yaml:"template"`
	Augments bool   `json:"augments,omitempty" yaml:"augments"`
}

// Scope identifies the tenant record that field lookups read from.
type Scope struct {
	OrgID   string `json:"orgId"`
	UseCase string `json:"useCase"`
	BotName string `json:"botName"`
}

// Empty reports whether no part of the scope is set.
func (s Scope) Empty() bool {
	return s.OrgID == "" && s.UseCase == "" && s.BotName == ""
}
