package security

import (
	"fmt"
	"strings"
)

// maxKeyPartLength bounds sessionId and version so filenames stay under common 255-byte limits
const maxKeyPartLength = 120

// ValidateRecordingKeyPart checks a sessionId or version before it becomes part of a storage key.
//
// Returns an error if the value:
//   - Is empty
//   - Contains path traversal sequences (.., /, \)
//   - Starts with a dot, which would make the stored file hidden
//   - Contains control characters
//   - Is longer than 120 bytes
func ValidateRecordingKeyPart(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}

	if strings.Contains(value, "..") {
		return fmt.Errorf("invalid %s: path traversal attempt detected (..)", field)
	}
	if strings.HasPrefix(value, ".") {
		return fmt.Errorf("invalid %s: must not start with a dot", field)
	}
	if strings.ContainsAny(value, `/\`) {
		return fmt.Errorf("invalid %s: path separators are not allowed", field)
	}
	if strings.IndexFunc(value, func(r rune) bool { return r < 0x20 || r == 0x7f }) >= 0 {
		return fmt.Errorf("invalid %s: control characters are not allowed", field)
	}
	if len(value) > maxKeyPartLength {
		return fmt.Errorf("invalid %s: longer than %d bytes", field, maxKeyPartLength)
	}

	return nil
}
