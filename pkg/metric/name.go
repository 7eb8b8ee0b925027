// Package metric names and buffers the scalar quantities produced during a test.
package metric

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/go-logfmt/logfmt"
)

type metadata map[string]string

// Name identifies a quantity, such as critical_load_kg.  Metadata groups quantities from the same device or
// run and annotations (metadata keys with an empty value) qualify the quantity.  Names are marshalled with a
// modified logfmt: critical_load_kg[device=Progressor_1234 run=01H... @estimate]
type Name struct {
	name string
	md   metadata
}

// NewName returns a new name with the associated metadata
func NewName(name string, md map[string]string) Name {
	if md == nil {
		md = make(map[string]string)
	}
	return Name{name: name, md: md}
}

// String marshals the name, dropping metadata that cannot be encoded
func (n Name) String() string {
	md, err := MarshalText(n.md)
	if err != nil {
		md = []byte{}
	}
	return n.name + string(md)
}

// Base returns the name without metadata
func (n Name) Base() string {
	return n.name
}

// AddAnnotation adds annotations such as @estimate or @stderr
func (n Name) AddAnnotation(ann ...string) {
	for _, a := range ann {
		n.md[a] = ""
	}
}

// AddMetadata upserts key value pairs into the metadata
func (n Name) AddMetadata(md map[string]string) {
	for k, v := range md {
		n.md[k] = v
	}
}

// Tags returns a copy of the key value metadata without annotations
func (n Name) Tags() map[string]string {
	out := make(map[string]string, len(n.md))
	for k, v := range n.md {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Clone returns a name whose metadata can be changed without affecting n
func (n Name) Clone() Name {
	md := make(map[string]string, len(n.md))
	for k, v := range n.md {
		md[k] = v
	}
	return NewName(n.name, md)
}

// MarshalText encodes metadata as [k1=v1 k2=v2 @ann1 @ann2] with keys and annotations each sorted.  Empty
// metadata encodes to nothing.
func MarshalText(m metadata) ([]byte, error) {
	if len(m) == 0 {
		return []byte{}, nil
	}
	keys := make([]string, 0, len(m))
	ann := make([]string, 0, len(m))
	for k, v := range m {
		switch v {
		case "":
			ann = append(ann, "@"+k)
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	sort.Strings(ann)

	var b bytes.Buffer
	b.WriteByte('[')
	e := logfmt.NewEncoder(&b)
	for _, k := range keys {
		if err := e.EncodeKeyval(k, m[k]); err != nil {
			return nil, fmt.Errorf("failed to encode %s=%s: %v", k, m[k], err)
		}
	}
	for i, a := range ann {
		if i > 0 || len(keys) > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(a)
	}
	b.WriteByte(']')
	return b.Bytes(), nil
}
