// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package profile

import (
	"fmt"
	"os"
	"strings"
)

type ProfileType string

var Current = DEV // dev profile as default

const (
	DEV  ProfileType = "DEV"
	TEST ProfileType = "TEST"
	PROD ProfileType = "PROD"
)

// Parse maps a profile name to its type, unknown names keep the dev profile.
func Parse(name string) (ProfileType, bool) {
	switch ProfileType(strings.ToUpper(strings.TrimSpace(name))) {
	case DEV:
		return DEV, true
	case TEST:
		return TEST, true
	case PROD:
		return PROD, true
	}
	return DEV, false
}

// InitProfile reads the PROFILE environment variable.
func InitProfile() {
	if p, ok := Parse(os.Getenv("PROFILE")); ok {
		Current = p
	}
	fmt.Printf("Current profile: %s\n", Current)
}

// Verbose reports whether debug output is wanted for the current profile.
func Verbose() bool {
	return Current != PROD
}
