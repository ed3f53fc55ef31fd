package naming

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// Fields is the validated content of one canonical filename.
type Fields struct {
	Type     string `json:"type"`
	TypeName string `json:"type_name"`
	Scope    string `json:"scope"`
	// Identifier is the asset, SPV or fund code selected by Scope.
	Identifier string `json:"identifier,omitempty"`
	// TenantNo is the tenant segment carried inside Type, if any.
	TenantNo string `json:"tenant_no,omitempty"`
	// Tenant is a free-text tenant segment; only the concat scheme writes it.
	Tenant      string `json:"tenant,omitempty"`
	Date        string `json:"date,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
	Mail        string `json:"mail,omitempty"`
	UploaderTag string `json:"uploader_tag,omitempty"`
	Ext         string `json:"ext"`
}

var dateGrammar = []struct {
	format string
	re     *regexp.Regexp
	layout string
}{
	{DateYear, regexp.MustCompile(`^\d{4}$`), "2006"},
	{DateMonth, regexp.MustCompile(`^\d{4}-\d{2}$`), "2006-01"},
	{DateDay, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`), "2006-01-02"},
}

// ParseDate matches s against the allowed formats and returns the first day
// of the period it names, the period's exclusive end and the matched format.
// Calendar validity is checked, so 2024-02-30 fails.
func ParseDate(s string, formats []string) (from, to time.Time, format string, ok bool) {
	s = strings.TrimSpace(s)
	for _, g := range dateGrammar {
		if !contains(formats, g.format) || !g.re.MatchString(s) {
			continue
		}
		t, err := time.Parse(g.layout, s)
		if err != nil {
			return time.Time{}, time.Time{}, "", false
		}
		switch g.format {
		case DateYear:
			return t, t.AddDate(1, 0, 0), g.format, true
		case DateMonth:
			return t, t.AddDate(0, 1, 0), g.format, true
		default:
			return t, t.AddDate(0, 0, 1), g.format, true
		}
	}
	return time.Time{}, time.Time{}, "", false
}

// AllDateFormats accepts every supported layout.
var AllDateFormats = []string{DateYear, DateMonth, DateDay}

// NormalizeDate expands a flexible date to YYYY-MM-DD.
func NormalizeDate(s string) (string, bool) {
	from, _, _, ok := ParseDate(s, AllDateFormats)
	if !ok {
		return "", false
	}
	return from.Format("2006-01-02"), true
}

var leadingCodeRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)`)

// ExtractTypeCode returns the dotted numeric code a filename starts with.
func ExtractTypeCode(filename string) string {
	return leadingCodeRe.FindString(strings.TrimSpace(filename))
}

// ShortCode hashes input with 32-bit FNV-1a over its UTF-16 code units and
// returns the first six base36 digits. Browsers computed the same tag, so
// the hash must not change.
func ShortCode(input string) string {
	h := uint32(2166136261)
	for _, u := range utf16.Encode([]rune(input)) {
		h ^= uint32(u)
		h *= 16777619
	}
	s := strconv.FormatUint(uint64(h), 36)
	if len(s) > 6 {
		s = s[:6]
	}
	return s
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
