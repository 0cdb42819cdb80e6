package schema

import "strings"

// MaxJobIDLength bounds job identifiers.
const MaxJobIDLength = 128

// ValidateJobID ensures a job id matches [A-Za-z0-9._-] with no normalization.
// Ids starting with '.' are rejected so they cannot name hidden or parent paths.
func ValidateJobID(jobID JobID) error {
	raw := string(jobID)
	if raw == "" || len(raw) > MaxJobIDLength {
		return ErrInvalidJob
	}
	if strings.TrimSpace(raw) != raw || strings.HasPrefix(raw, ".") {
		return ErrInvalidJob
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidJob
	}
	return nil
}
