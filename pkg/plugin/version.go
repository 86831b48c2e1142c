package plugin

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// parseConstraint turns the manifest's whitespace/comma-separated
// constraint language (each token `>=`, `>`, `<=`, `<`, `==`, or a bare
// version meaning exact match) into a Masterminds semver constraint. All
// tokens must hold, matching Masterminds' comma-separated AND semantics.
func parseConstraint(raw string) (*semver.Constraints, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return semver.NewConstraint("*")
	}

	translated := make([]string, 0, len(fields))
	for _, f := range fields {
		translated = append(translated, strings.Replace(f, "==", "=", 1))
	}
	return semver.NewConstraint(strings.Join(translated, ", "))
}

// SatisfiesConstraint reports whether backendVersion satisfies a plugin's
// required_backend constraint string.
func SatisfiesConstraint(raw, backendVersion string) (bool, error) {
	if raw == "" {
		return true, nil
	}
	c, err := parseConstraint(raw)
	if err != nil {
		return false, fmt.Errorf("invalid version constraint %q: %w", raw, err)
	}
	v, err := semver.NewVersion(backendVersion)
	if err != nil {
		return false, fmt.Errorf("invalid backend version %q: %w", backendVersion, err)
	}
	return c.Check(v), nil
}
