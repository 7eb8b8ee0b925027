package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameMarshal(t *testing.T) {
	tt := []struct {
		name string
		n    string
		md   map[string]string
		exp  string
	}{
		{name: "no metadata", n: "critical_load_kg", exp: "critical_load_kg"},
		{name: "metadata", n: "critical_load_kg", md: map[string]string{"device": "p1", "run": "abc"}, exp: "critical_load_kg[device=p1 run=abc]"},
		{name: "metadata spaces", n: "critical_load_kg", md: map[string]string{"run": "left hand", "device": "p1"}, exp: "critical_load_kg[device=p1 run=\"left hand\"]"},
		{name: "metadata with annotations", n: "critical_load_kg", md: map[string]string{"run": "abc", "device": "p1", "stderr": ""}, exp: "critical_load_kg[device=p1 run=abc @stderr]"},
		{name: "annotations only", n: "critical_load_kg", md: map[string]string{"stderr": "", "estimate": ""}, exp: "critical_load_kg[@estimate @stderr]"},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			n := NewName(tc.n, tc.md)
			assert.Equal(t, tc.exp, n.String())
		})
	}
}

func TestAddMetadata(t *testing.T) {
	tt := []struct {
		name string
		add  map[string]string
		exp  map[string]string
	}{
		{name: "no replacement", add: map[string]string{"c": "d", "e": "f"}, exp: map[string]string{"a": "b", "c": "d", "e": "f"}},
		{name: "replacement", add: map[string]string{"a": "d", "e": "f"}, exp: map[string]string{"a": "d", "e": "f"}},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			n := NewName("test", map[string]string{"a": "b"})
			n.AddMetadata(tc.add)
			assert.Equal(t, metadata(tc.exp), n.md)
		})
	}
}

func TestAnnotationsAndTags(t *testing.T) {
	n := NewName("peak_load_kg", map[string]string{"device": "p1"})
	n.AddAnnotation("estimate")
	assert.Equal(t, map[string]string{"device": "p1"}, n.Tags())
	assert.Equal(t, "peak_load_kg", n.Base())

	c := n.Clone()
	c.AddMetadata(map[string]string{"run": "abc"})
	assert.Equal(t, "peak_load_kg[device=p1 @estimate]", n.String())
	assert.Equal(t, "peak_load_kg[device=p1 run=abc @estimate]", c.String())
}
