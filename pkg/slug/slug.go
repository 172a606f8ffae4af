package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var slugRegexp = regexp.MustCompile(`[^a-z0-9]+`)

// Letters that do not decompose into base + combining mark under NFD.
var foldReplacer = strings.NewReplacer(
	"ı", "i", "ø", "o", "æ", "ae", "œ", "oe", "ß", "ss", "ł", "l", "đ", "d", "þ", "th",
)

// Generate creates a URL-friendly slug from the given text. Diacritics are
// folded to their ASCII base letter.
//
// Examples:
//   - "Cien años de soledad" → "cien-anos-de-soledad"
//   - "Çocuk Ürünleri" → "cocuk-urunleri"
//   - "Hello   World!" → "hello-world"
func Generate(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = foldReplacer.Replace(s)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}

	// Any run of non-alphanumerics becomes a single hyphen.
	s = slugRegexp.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Join builds a slug from several parts, skipping empty ones.
// Join("Dune", "Frank Herbert") → "dune-frank-herbert".
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if g := Generate(p); g != "" {
			out = append(out, g)
		}
	}
	return strings.Join(out, "-")
}
