// Package blocklist hides retired repositories from every dashboard listing.
package blocklist

import "strings"

// Repos whose names match these substrings are dropped from all output.
var blockedRepos = []string{
	// uTour repos (no longer active)
	"utour-backend",
	"utour-frontends",
	"utour-export",
	"utour-voice",
	"utour",
	// Touchscreen kiosk repos (uTour related)
	"tributer-touchscreen",
	"beazer-touchscreen",
}

// IsBlocked reports whether the repo name contains any blocked substring,
// case-insensitively.
func IsBlocked(repo string) bool {
	lower := strings.ToLower(repo)
	for _, b := range blockedRepos {
		if strings.Contains(lower, b) {
			return true
		}
	}
	return false
}
