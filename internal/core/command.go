// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import "strings"

// ParseCommand splits a line-oriented client input into a lowercased verb
// and the rest of the line.
func ParseCommand(input string) (cmd, arg string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ""
	}

	parts := strings.SplitN(input, " ", 2)
	cmd = strings.ToLower(parts[0])
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}
	return cmd, arg
}

// ParseJoinArgs splits "<room> <display name>" arguments. The display name
// is everything after the first word and may contain spaces.
func ParseJoinArgs(arg string) (room, displayName string) {
	arg = strings.TrimSpace(arg)
	room, displayName, _ = strings.Cut(arg, " ")
	return room, strings.TrimSpace(displayName)
}
