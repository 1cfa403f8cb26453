package model

import (
	"fmt"
	"strconv"
	"strings"
)

// CacheKey is the filesystem safe, collision free key derived from an Identity.
type CacheKey string

func (k CacheKey) String() string {
	return string(k)
}

// Identity describes a player on one platform. Zero valued id fields are absent. Name is
// informational and never participates in equality or keying.
type Identity struct {
	Platform  Platform `json:"platform" yaml:"platform"`
	NumericID uint64   `json:"numeric_id,omitempty" yaml:"numeric_id"`
	StringID  string   `json:"string_id,omitempty" yaml:"string_id"`
	Name      string   `json:"name,omitempty" yaml:"name"`
}

func (id Identity) HasID() bool {
	return id.NumericID != 0 || id.StringID != ""
}

func (id Identity) Equal(other Identity) bool {
	return id.Platform == other.Platform && id.NumericID == other.NumericID && id.StringID == other.StringID
}

// Key derives the cache key. ok is false when the identity carries no id at all.
//
// Layout is <platform>_<numeric>_<string> with absent parts omitted. The string part never
// contains '_' so the separator stays unambiguous.
func (id Identity) Key() (CacheKey, bool) {
	if !id.HasID() {
		return "", false
	}

	parts := []string{id.Platform.String()}
	if id.NumericID != 0 {
		parts = append(parts, strconv.FormatUint(id.NumericID, 10))
	}

	if id.StringID != "" {
		part := escapeKeyPart(id.StringID)
		if id.NumericID == 0 && isDigits(part) {
			// Would otherwise look identical to a numeric only key.
			part = fmt.Sprintf("~%02x%s", part[0], part[1:])
		}

		parts = append(parts, part)
	}

	return CacheKey(strings.Join(parts, "_")), true
}

func (id Identity) String() string {
	switch {
	case id.NumericID != 0 && id.StringID != "":
		return fmt.Sprintf("%s:%d:%s", id.Platform, id.NumericID, id.StringID)
	case id.NumericID != 0:
		return fmt.Sprintf("%s:%d", id.Platform, id.NumericID)
	case id.StringID != "":
		return fmt.Sprintf("%s:%s", id.Platform, id.StringID)
	default:
		return fmt.Sprintf("%s:%q", id.Platform, id.Name)
	}
}

func keySafe(char byte) bool {
	return (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') || char == '.' || char == '-'
}

// escapeKeyPart replaces every byte outside [A-Za-z0-9.-] with ~XX. '~' is itself escaped
// so the mapping stays injective.
func escapeKeyPart(value string) string {
	var out strings.Builder

	out.Grow(len(value))

	for i := 0; i < len(value); i++ {
		if keySafe(value[i]) {
			out.WriteByte(value[i])

			continue
		}

		_, _ = fmt.Fprintf(&out, "~%02x", value[i])
	}

	return out.String()
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}

	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}

	return true
}
