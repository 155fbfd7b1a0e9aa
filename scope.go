// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import "strings"

// NormalizeScope canonicalizes a requested scope: split on whitespace,
// drop duplicates preserving insertion order, rejoin with single spaces.
func NormalizeScope(scope string) string {
	return strings.Join(ScopeList(scope), " ")
}

// ScopeList returns the normalized scope as a list of names
func ScopeList(scope string) []string {
	fields := strings.Fields(scope)
	names := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		names = append(names, f)
	}
	return names
}

// validateScope checks every requested name against the configured
// allow-list. An empty allow-list accepts anything. Returns the first
// unknown name.
func validateScope(scope string, allowed []string) (string, bool) {
	if len(allowed) == 0 {
		return "", true
	}
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for _, name := range ScopeList(scope) {
		if _, ok := set[name]; !ok {
			return name, false
		}
	}
	return "", true
}
