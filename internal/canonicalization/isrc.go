// Package canonicalization normalizes external identifiers before they are stored or looked up.
package canonicalization

import (
	"regexp"
	"strings"
)

// isrcPattern is CC-XXX-YY-NNNNN without separators: country, registrant, year, designation.
var isrcPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{3}[0-9]{7}$`)

// NormalizeISRC uppercases an ISRC and strips the hyphens and spaces it is often
// printed with. ok is false when the result is not a well-formed ISRC.
//
// Examples:
//   - NormalizeISRC("us-rc1-76-07839") → "USRC17607839", true
//   - NormalizeISRC(" gbarl9300135 ") → "GBARL9300135", true
//   - NormalizeISRC("n/a") → "", false
func NormalizeISRC(raw string) (string, bool) {
	isrc := strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		default:
			return r
		}
	}, strings.ToUpper(raw))

	if !isrcPattern.MatchString(isrc) {
		return "", false
	}

	return isrc, true
}
