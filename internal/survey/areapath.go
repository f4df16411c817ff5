// Package survey holds the in-memory survey aggregate: the area tree, the
// path-keyed per-area stores, and the reconciliation logic that keeps the two
// consistent as the tree is edited.
package survey

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AreaPath addresses one node in the area tree by index. Sub and SS are nil
// for shallower paths; a path with SS set must also have Sub set.
type AreaPath struct {
	Main int  `json:"main"`
	Sub  *int `json:"sub,omitempty"`
	SS   *int `json:"ss,omitempty"`
}

var ErrBadPath = errors.New("invalid area path")

func MainPath(main int) AreaPath {
	return AreaPath{Main: main}
}

func SubPath(main, sub int) AreaPath {
	return AreaPath{Main: main, Sub: &sub}
}

func SubSubPath(main, sub, ss int) AreaPath {
	return AreaPath{Main: main, Sub: &sub, SS: &ss}
}

// Depth returns 1 for a main area, 2 for a sub-area, 3 for a sub-sub-area.
func (p AreaPath) Depth() int {
	switch {
	case p.SS != nil:
		return 3
	case p.Sub != nil:
		return 2
	default:
		return 1
	}
}

func (p AreaPath) Equal(other AreaPath) bool {
	return Canonical(p) == Canonical(other)
}

// Canonical serializes a path to its canonical string form, the form used as
// a store key. Field presence encodes depth: {main:0} and {main:0, sub:nil}
// produce the same bytes.
func Canonical(p AreaPath) string {
	switch {
	case p.Sub != nil && p.SS != nil:
		return fmt.Sprintf(`{"main":%d,"sub":%d,"ss":%d}`, p.Main, *p.Sub, *p.SS)
	case p.Sub != nil:
		return fmt.Sprintf(`{"main":%d,"sub":%d}`, p.Main, *p.Sub)
	default:
		return fmt.Sprintf(`{"main":%d}`, p.Main)
	}
}

// ParsePath parses a canonical (or canonicalizable) path string. Keys written
// by older clients may carry fields in any order; parsing accepts them and
// Canonical renormalizes. Structural violations (ss without sub, negative
// indexes) are rejected alongside malformed JSON.
func ParsePath(key string) (AreaPath, error) {
	var p AreaPath
	if err := json.Unmarshal([]byte(key), &p); err != nil {
		return AreaPath{}, fmt.Errorf("%w: %s", ErrBadPath, key)
	}
	if p.Main < 0 {
		return AreaPath{}, fmt.Errorf("%w: negative main index", ErrBadPath)
	}
	if p.Sub != nil && *p.Sub < 0 {
		return AreaPath{}, fmt.Errorf("%w: negative sub index", ErrBadPath)
	}
	if p.SS != nil {
		if p.Sub == nil {
			return AreaPath{}, fmt.Errorf("%w: ss without sub", ErrBadPath)
		}
		if *p.SS < 0 {
			return AreaPath{}, fmt.Errorf("%w: negative ss index", ErrBadPath)
		}
	}
	return p, nil
}
