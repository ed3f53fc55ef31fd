// Package metaname encodes an ordered set of key/value tags into a single
// filename-safe token of the form m(k=v)(k=v)... and decodes it back.
//
// The token is the storage key of an uploaded document and the only carrier
// of its metadata until the indexer has read it, so Decode must be the exact
// left inverse of Encode.
package metaname

import (
	"bytes"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// Prefix marks an encoded token.
const Prefix = "m"

// Recognized tag keys.
const (
	KeyType  = "ttype"
	KeyName  = "tname"
	KeyScope = "tscope"
	KeyAsset = "tasset"
	KeySPV   = "tspv"
	KeyFund  = "tfund"
	KeyDate  = "tdate"
	KeyMail  = "tmail"
)

var keyRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Tag is one key/value entry.
type Tag struct {
	Key   string
	Value string
}

// TagSet is an insertion-ordered mapping with unique keys.
type TagSet []Tag

// Set assigns v to k. An existing key keeps its position.
func (t *TagSet) Set(k, v string) {
	for i := range *t {
		if (*t)[i].Key == k {
			(*t)[i].Value = v
			return
		}
	}
	*t = append(*t, Tag{Key: k, Value: v})
}

// Get returns the value stored under k.
func (t TagSet) Get(k string) (string, bool) {
	for _, tag := range t {
		if tag.Key == k {
			return tag.Value, true
		}
	}
	return "", false
}

// Value returns the value under k or the empty string.
func (t TagSet) Value(k string) string {
	v, _ := t.Get(k)
	return v
}

// Map returns the tags as a plain map.
func (t TagSet) Map() map[string]string {
	out := make(map[string]string, len(t))
	for _, tag := range t {
		out[tag.Key] = tag.Value
	}
	return out
}

// Equal compares two sets as mappings; order is ignored.
func (t TagSet) Equal(o TagSet) bool {
	if len(t) != len(o) {
		return false
	}
	for _, tag := range t {
		v, ok := o.Get(tag.Key)
		if !ok || v != tag.Value {
			return false
		}
	}
	return true
}

// MarshalJSON renders the set as a JSON object in insertion order.
func (t TagSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, tag := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(tag.Key)
		v, _ := json.Marshal(tag.Value)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// NormalizeKey lowercases k and drops every character outside [a-z0-9_-].
func NormalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	var b strings.Builder
	for i := 0; i < len(k); i++ {
		c := k[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Encode renders tags as m(k=v)(k=v)... in insertion order. Entries whose
// normalized key is empty are skipped.
func Encode(tags TagSet) string {
	var b strings.Builder
	b.WriteString(Prefix)
	for _, tag := range tags {
		k := NormalizeKey(tag.Key)
		if k == "" {
			continue
		}
		b.WriteByte('(')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(EscapeValue(tag.Value))
		b.WriteByte(')')
	}
	return b.String()
}

// Decode parses a token produced by Encode. It reports false for anything
// that is not a well-formed token.
func Decode(token string) (TagSet, bool) {
	if !strings.HasPrefix(token, Prefix) {
		return nil, false
	}
	out := TagSet{}
	rest := token[len(Prefix):]
	for rest != "" {
		if rest[0] != '(' {
			return nil, false
		}
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return nil, false
		}
		inner := rest[1:end]
		eq := strings.IndexByte(inner, '=')
		if eq <= 0 {
			return nil, false
		}
		key := strings.ToLower(strings.TrimSpace(inner[:eq]))
		if !keyRe.MatchString(key) {
			return nil, false
		}
		out.Set(key, UnescapeValue(inner[eq+1:]))
		rest = rest[end+1:]
	}
	return out, true
}

// BuildFilename encodes tags and appends the extension of originalName, if any.
func BuildFilename(tags TagSet, originalName string) string {
	_, ext := SplitName(originalName)
	token := Encode(tags)
	if ext == "" {
		return token
	}
	return token + "." + ext
}

// ParseFilename splits off the extension and decodes the remaining token.
// A bare token without extension is accepted as well.
func ParseFilename(name string) (TagSet, string, bool) {
	base, ext := SplitName(name)
	if tags, ok := Decode(base); ok {
		return tags, ext, true
	}
	tags, ok := Decode(name)
	return tags, "", ok
}

// SplitName splits name on its last dot.
func SplitName(name string) (base, ext string) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return name, ""
	}
	return name[:dot], name[dot+1:]
}

const upperhex = "0123456789ABCDEF"

// EscapeValue percent-encodes every byte outside the RFC 3986 unreserved set,
// so parentheses, '=' and "!'*" never appear raw inside a block.
func EscapeValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

// UnescapeValue reverses EscapeValue. Malformed escapes fall back to the raw
// input so that names produced by other tools still index.
func UnescapeValue(s string) string {
	v, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return v
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}
