// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package governance centralizes the two-layer authorization check applied
// to every tool invocation: the tool's allowed-role set and the active
// skill's allowed-tool list. Decisions are pure functions of their inputs.
package governance

import (
	"path"
	"strings"

	"github.com/jllopis/telos/pkg/core"
)

// Decision captures the outcome of an authorization evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow returns a permissive decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denial with a reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// RoleAllowed evaluates the first RBAC layer: the requesting role must be
// in the tool's allowed-role set. An empty set denies every role.
func RoleAllowed(role core.Role, allowed []core.Role) Decision {
	for _, r := range allowed {
		if r == role {
			return Allow()
		}
	}
	return Deny("role " + string(role) + " is not permitted for this tool")
}

// ToolFilter is the second RBAC layer: the skill-scoped allowlist of tool
// names. Entries may be exact names or glob patterns (e.g. "kb_*").
type ToolFilter struct {
	allowlist map[string]bool
}

// NewToolFilter builds a filter from the skill's allowed-tool list.
func NewToolFilter(tools []string) *ToolFilter {
	tf := &ToolFilter{allowlist: make(map[string]bool, len(tools))}
	for _, tool := range tools {
		tool = strings.TrimSpace(tool)
		if tool != "" {
			tf.allowlist[tool] = true
		}
	}
	return tf
}

// IsAllowed checks whether a tool name passes the skill allowlist. An empty
// allowlist denies everything: a skill must name its tools to use them.
func (tf *ToolFilter) IsAllowed(toolName string) Decision {
	if tf.matches(toolName) {
		return Allow()
	}
	return Deny("tool " + toolName + " is not in the skill allowlist")
}

// FilterTools returns only the tool names that pass the filter, preserving
// input order.
func (tf *ToolFilter) FilterTools(toolNames []string) []string {
	filtered := make([]string, 0, len(toolNames))
	for _, name := range toolNames {
		if tf.matches(name) {
			filtered = append(filtered, name)
		}
	}
	return filtered
}

func (tf *ToolFilter) matches(toolName string) bool {
	if tf.allowlist[toolName] {
		return true
	}
	for pattern := range tf.allowlist {
		if ok, err := path.Match(pattern, toolName); err == nil && ok {
			return true
		}
	}
	return false
}
