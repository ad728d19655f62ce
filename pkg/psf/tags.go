package psf

import (
	"bytes"
	"strings"
)

// Tags is the name=value metadata of a container.
//
// Names are case-sensitive and unique. A name that appears on several lines
// holds every value joined with "\n" in file order. Iteration follows first
// insertion so that serialization is deterministic.
//
// A nil *Tags reads as empty and Delete on it does nothing. Set and Append
// store into the receiver, so they need a set from NewTags (New and the
// parser always provide one).
type Tags struct {
	values map[string]string
	order  []string
}

// NewTags returns an empty tag set.
func NewTags() *Tags {
	return &Tags{values: make(map[string]string)}
}

// Len returns the number of distinct names.
func (t *Tags) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Get returns the value stored under name.
func (t *Tags) Get(name string) (string, bool) {
	if t == nil {
		return "", false
	}
	v, ok := t.values[name]
	return v, ok
}

// Has reports whether name is present.
func (t *Tags) Has(name string) bool {
	_, ok := t.Get(name)
	return ok
}

// Set replaces the value stored under name, inserting it if absent.
// It panics if t is nil.
func (t *Tags) Set(name, value string) {
	if t == nil {
		panic("psf: Set on nil *Tags")
	}
	if t.values == nil {
		t.values = make(map[string]string)
	}
	if _, ok := t.values[name]; !ok {
		t.order = append(t.order, name)
	}
	t.values[name] = value
}

// Append inserts name with value, or appends "\n"+value to an existing entry.
// It panics if t is nil.
func (t *Tags) Append(name, value string) {
	if t == nil {
		panic("psf: Append on nil *Tags")
	}
	if t.values == nil {
		t.values = make(map[string]string)
	}
	if prev, ok := t.values[name]; ok {
		t.values[name] = prev + "\n" + value
		return
	}
	t.order = append(t.order, name)
	t.values[name] = value
}

// Delete removes name.
func (t *Tags) Delete(name string) {
	if t == nil {
		return
	}
	if _, ok := t.values[name]; !ok {
		return
	}
	delete(t.values, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Names returns the tag names in first-insertion order.
func (t *Tags) Names() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// ParseTags parses the bytes following the tag marker.
//
// Lines without '=' are ignored. Name and value are split at the first '='
// and each side is trimmed of bytes <= 0x20. A final line without a trailing
// newline is accepted.
func ParseTags(data []byte) *Tags {
	tags := NewTags()
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line = data[:i]
			data = data[i+1:]
		} else {
			data = nil
		}

		sep := bytes.IndexByte(line, '=')
		if sep < 0 {
			continue
		}
		tags.Append(TrimTagSpace(string(line[:sep])), TrimTagSpace(string(line[sep+1:])))
	}
	return tags
}

// TrimTagSpace strips every byte <= 0x20 from both ends of s, the trimming
// applied to tag names and values. strings.TrimSpace is not used because it
// decodes UTF-8 and leaves most control codes in place.
func TrimTagSpace(s string) string {
	for len(s) > 0 && s[0] <= 0x20 {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] <= 0x20 {
		s = s[:len(s)-1]
	}
	return s
}

// appendTagLines writes one name=value line per line of each value.
func (t *Tags) appendTagLines(buf []byte) []byte {
	for _, name := range t.order {
		for _, line := range strings.Split(t.values[name], "\n") {
			buf = append(buf, name...)
			buf = append(buf, '=')
			buf = append(buf, line...)
			buf = append(buf, '\n')
		}
	}
	return buf
}
