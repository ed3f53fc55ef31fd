// Package sanitize makes user-supplied text safe as a filename component or
// tag value while keeping it readable.
package sanitize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Whitespace selects how runs of whitespace are treated.
type Whitespace int

const (
	// CollapseSpace turns every whitespace run into a single space.
	CollapseSpace Whitespace = iota
	// RemoveSpace deletes all whitespace.
	RemoveSpace
)

// Options drives Clean.
type Options struct {
	Transliterate      bool
	StripTagDelimiters bool
	Whitespace         Whitespace
	CollapseDashes     bool
	Fallback           string
}

var (
	unsafeRe    = regexp.MustCompile(`[\\/:*?"<>|]`)
	tagDelimRe  = regexp.MustCompile(`[()=]`)
	spaceRe     = regexp.MustCompile(`\s+`)
	dashRunRe   = regexp.MustCompile(`-+`)
	umlautsRepl = strings.NewReplacer(
		"ä", "ae", "ö", "oe", "ü", "ue",
		"Ä", "Ae", "Ö", "Oe", "Ü", "Ue",
		"ß", "ss",
	)
)

// Transliterate maps German umlauts to ASCII digraphs, then strips the
// remaining diacritics. The umlaut pass must come first, otherwise "ü"
// would decompose to a bare "u".
func Transliterate(s string) string {
	s = umlautsRepl.Replace(s)
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Clean applies o to s.
func Clean(s string, o Options) string {
	if o.Transliterate {
		s = Transliterate(s)
	}
	if o.StripTagDelimiters {
		s = tagDelimRe.ReplaceAllString(s, "-")
	}
	s = unsafeRe.ReplaceAllString(s, "-")
	switch o.Whitespace {
	case RemoveSpace:
		s = spaceRe.ReplaceAllString(s, "")
	default:
		s = spaceRe.ReplaceAllString(s, " ")
	}
	if o.CollapseDashes {
		s = dashRunRe.ReplaceAllString(s, "-")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return o.Fallback
	}
	return s
}

var (
	filenameOpts = Options{Transliterate: true, Fallback: "unnamed"}
	tagValueOpts = Options{Transliterate: true, StripTagDelimiters: true}
	segmentOpts  = Options{CollapseDashes: true}
)

// Filename cleans an uploaded file's original name.
func Filename(s string) string { return Clean(s, filenameOpts) }

// TagValue cleans a value that will be stored inside an m(...) block.
func TagValue(s string) string { return Clean(s, tagValueOpts) }

// Segment cleans a free-text segment of an underscore-joined name. Case and
// non-ASCII letters are kept.
func Segment(s string) string { return Clean(s, segmentOpts) }

// Identifier normalizes an asset code: trimmed, no whitespace, upper case.
func Identifier(s string) string {
	return strings.ToUpper(spaceRe.ReplaceAllString(strings.TrimSpace(s), ""))
}

// UniqueFold trims, drops empty entries, removes case-insensitive duplicates
// (keeping the first spelling seen) and sorts the result the way a user
// expects: case and accents are ignored.
func UniqueFold(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, raw := range items {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		k := strings.ToLower(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	c := collate.New(language.Und, collate.IgnoreCase, collate.IgnoreDiacritics)
	sort.SliceStable(out, func(i, j int) bool {
		return c.CompareString(out[i], out[j]) < 0
	})
	return out
}
