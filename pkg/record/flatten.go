package record

import (
	"fmt"
	"sort"
)

// DefaultSeparator joins a nested key to its parent key.
const DefaultSeparator = "_"

// Collision reports two source paths that flatten to the same key.
// Kept is the path whose value was retained; Dropped lost.
type Collision struct {
	Key     string
	Kept    string
	Dropped string
}

func (c Collision) String() string {
	return fmt.Sprintf("key %q: kept %s, dropped %s", c.Key, c.Kept, c.Dropped)
}

// Flattener converts nested records to rows.
type Flattener struct {
	Separator string
}

// NewFlattener returns a Flattener using sep, or DefaultSeparator when sep is empty.
func NewFlattener(sep string) *Flattener {
	if sep == "" {
		sep = DefaultSeparator
	}
	return &Flattener{Separator: sep}
}

// Flatten descends through nested objects joining keys with the separator.
// Sequences are not descended into; they are stored as canonical JSON text
// under the current key. Scalars pass through unchanged.
//
// Keys are visited in sorted order at every level, so when two paths join to
// the same flat key the first one visited wins and the other is reported.
func (f *Flattener) Flatten(r Record) (Row, []Collision) {
	st := &flattenState{
		sep:   f.Separator,
		row:   make(Row, len(r)),
		paths: make(map[string]string, len(r)),
	}
	st.walk("", "", r)
	return st.row, st.collisions
}

// FlattenAll flattens every record, preserving order. Collisions from all
// records are returned together.
func (f *Flattener) FlattenAll(records []Record) ([]Row, []Collision) {
	rows := make([]Row, len(records))
	var collisions []Collision
	for i, r := range records {
		var c []Collision
		rows[i], c = f.Flatten(r)
		collisions = append(collisions, c...)
	}
	return rows, collisions
}

// Flatten flattens r with the default separator.
func Flatten(r Record) (Row, []Collision) {
	return NewFlattener(DefaultSeparator).Flatten(r)
}

type flattenState struct {
	sep        string
	row        Row
	paths      map[string]string // flat key -> source path, for collision reports
	collisions []Collision
}

func (s *flattenState) walk(prefix, path string, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + s.sep + k
		}
		src := k
		if path != "" {
			src = path + "." + k
		}

		switch v := m[k].(type) {
		case map[string]any:
			s.walk(key, src, v)
		case Record:
			s.walk(key, src, v)
		case []any:
			text, err := Canonical(v)
			if err != nil {
				text = fmt.Sprint(v)
			}
			s.put(key, src, text)
		default:
			s.put(key, src, v)
		}
	}
}

func (s *flattenState) put(key, src string, v any) {
	if kept, ok := s.paths[key]; ok {
		s.collisions = append(s.collisions, Collision{Key: key, Kept: kept, Dropped: src})
		return
	}
	s.paths[key] = src
	s.row[key] = v
}
