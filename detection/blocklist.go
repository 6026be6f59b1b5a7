// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package detection

import (
	"path/filepath"
	"strings"
)

// DefaultBlocklist returns USB devices that must not be opened during
// detection. Format: VID:PID in hexadecimal (case-insensitive).
//
// Opening a serial port raises DTR, which resets most Arduino-class boards
// with native USB; probing them would interrupt whatever sketch they run.
func DefaultBlocklist() []string {
	return []string{
		"2341:0043", // Arduino Uno R3
		"2341:0042", // Arduino Mega 2560 R3
		"2341:8036", // Arduino Leonardo
	}
}

// IsBlocked checks if a USB device is in the blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	if vidpid == "" {
		return false
	}

	for _, blocked := range blocklist {
		if vidpid == strings.ToUpper(strings.TrimSpace(blocked)) {
			return true
		}
	}
	return false
}

// vidMarkers and pidMarkers are the prefixes USB descriptors put before the IDs
var (
	vidMarkers = []string{"VID:", "VID_", "VENDOR=", "VID="}
	pidMarkers = []string{"PID:", "PID_", "PRODUCT=", "PID="}
)

// ParseVIDPID extracts VID:PID from the descriptor formats seen across
// platforms: "1A86:7523", "VID:1A86 PID:7523", "vendor=1a86 product=7523"
// and Windows hardware IDs such as `USB\VID_1A86&PID_7523`.
func ParseVIDPID(descriptor string) string {
	descriptor = strings.ToUpper(descriptor)

	vid := findHexAfter(descriptor, vidMarkers)
	pid := findHexAfter(descriptor, pidMarkers)
	if vid != "" && pid != "" {
		return vid + ":" + pid
	}

	if vid, pid, ok := strings.Cut(descriptor, ":"); ok && isHex(vid) && isHex(pid) {
		return descriptor
	}
	return ""
}

// findHexAfter returns the hex digits following the first marker found
func findHexAfter(s string, markers []string) string {
	for _, marker := range markers {
		if idx := strings.Index(s, marker); idx >= 0 {
			return extractHex(s[idx+len(marker):])
		}
	}
	return ""
}

// extractHex extracts the first sequence of hex digits from a string.
func extractHex(s string) string {
	var result strings.Builder
	foundHex := false

	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			_, _ = result.WriteRune(r)
			foundHex = true
		} else if foundHex {
			break
		}
	}
	return result.String()
}

// isHex checks if a string contains only hexadecimal characters.
func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// IsPathIgnored checks if a device path should be ignored. Paths are compared
// after cleaning and case folding. Ignoring a bare I2C bus such as
// "/dev/i2c-1" also ignores every bridge address on it ("/dev/i2c-1:0x48").
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" || len(ignorePaths) == 0 {
		return false
	}

	device := normalizedPath(devicePath)
	bus, _, hasAddr := strings.Cut(device, ":")

	for _, ignorePath := range ignorePaths {
		if ignorePath == "" {
			continue
		}
		ignored := normalizedPath(ignorePath)
		if device == ignored || (hasAddr && bus == ignored) {
			return true
		}
	}
	return false
}

// normalizedPath normalizes a device path for comparison
func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
