// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

// PresenceOf projects a membership snapshot onto the presence roster: display
// names in join order, each name listed once even when several connections
// share it.
func PresenceOf(members []Identity) []string {
	names := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m.DisplayName]; dup {
			continue
		}
		seen[m.DisplayName] = struct{}{}
		names = append(names, m.DisplayName)
	}
	return names
}
