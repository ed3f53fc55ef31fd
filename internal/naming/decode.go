package naming

import (
	"strings"

	"github.com/starford/docintake/internal/metaname"
)

// Decoded is the metadata read back from a storage name.
type Decoded struct {
	Scheme Scheme            `json:"scheme"`
	Fields Fields            `json:"fields"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Decode reads name with whichever scheme recognizes it. A leading bucket or
// folder is ignored. Tag-codec names also report every raw tag, including
// keys the composer does not know.
func Decode(name string) (*Decoded, error) {
	base := name[strings.LastIndexByte(name, '/')+1:]
	f, scheme, err := ParseAny(base)
	if err != nil {
		return nil, err
	}
	out := &Decoded{Scheme: scheme, Fields: f}
	if scheme == SchemeTagCodec {
		if tags, _, ok := metaname.ParseFilename(base); ok {
			out.Tags = tags.Map()
		}
	}
	return out, nil
}
