package armory

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RealmSlug converts a realm's display name into the slug used in profile
// URLs: "Aggra (Português)" becomes "aggra-portugues", "Kel'Thuzad" becomes
// "kelthuzad".
func RealmSlug(realm string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, realm)
	if err != nil {
		folded = realm
	}

	var sb strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r == '\'' || r == '’':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingDash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingDash = false
			sb.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	return sb.String()
}
