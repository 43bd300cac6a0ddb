package content

import "strings"

// DateEntries renders an item's date gates in the compact form the status
// listing uses: "available=...,due=...,until=...". Unset dates are left out;
// an undated item renders as the empty string.
func DateEntries(m Meta) string {
	var parts []string
	if m.UnlockAt != "" {
		parts = append(parts, "available="+m.UnlockAt)
	}
	if m.DueAt != "" {
		parts = append(parts, "due="+m.DueAt)
	}
	if m.LockAt != "" {
		parts = append(parts, "until="+m.LockAt)
	}
	return strings.Join(parts, ",")
}
