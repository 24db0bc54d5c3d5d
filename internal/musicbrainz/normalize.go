package musicbrainz

import (
	"sort"
	"strings"
)

// Normalize prepares a name for comparison: lowercase, punctuation
// stripped, whitespace collapsed.
func Normalize(s string) string {
	s = strings.ToLower(s)

	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "!", "")
	s = strings.ReplaceAll(s, "?", "")
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "\"", "")
	s = strings.ReplaceAll(s, "(", "")
	s = strings.ReplaceAll(s, ")", "")
	s = strings.ReplaceAll(s, "[", "")
	s = strings.ReplaceAll(s, "]", "")

	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// NormalizeList folds a value list into a stable CSV cell: unique non-empty
// values, sorted, joined with ";".
func NormalizeList(values []string) string {
	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
	}
	sort.Strings(unique)
	return strings.Join(unique, ";")
}

// CreditedName joins an artist credit into its display phrase, e.g.
// "Bob Dylan & Johnny Cash".
func CreditedName(credits []ArtistCredit) string {
	var b strings.Builder
	for _, credit := range credits {
		b.WriteString(credit.Name)
		b.WriteString(credit.JoinPhrase)
	}
	return strings.TrimSpace(b.String())
}

// CreditIDs extracts the artist MBIDs from a credit phrase.
func CreditIDs(credits []ArtistCredit) []string {
	ids := make([]string, 0, len(credits))
	for _, credit := range credits {
		if credit.Artist.ID != "" {
			ids = append(ids, credit.Artist.ID)
		}
	}
	return ids
}

// IsOriginal reports whether a recording belongs to the canonical artist:
// the full credit phrase must equal the artist's name after normalization.
// A collaboration credit ("Bob Dylan & Johnny Cash") therefore counts as a
// cover, matching the rule that only the sole credited artist qualifies.
func IsOriginal(canonicalName string, credits []ArtistCredit) bool {
	if len(credits) == 0 {
		return false
	}
	return Normalize(CreditedName(credits)) == Normalize(canonicalName)
}
