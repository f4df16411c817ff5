package survey

// PathStore maps canonical area path strings to a per-area payload. One
// instance exists per data category (noise sources, measurements, controls,
// hearing protection, exposures, comments). Writes never validate the path
// against the tree; validity is enforced lazily by Reconcile so call sites do
// not need the tree on every mutation.
type PathStore[T any] map[string]T

// Get returns the payload stored at p, or the category's zero value when no
// entry exists. It never fails for a missing or even out-of-range path.
func (s PathStore[T]) Get(p AreaPath) T {
	if v, ok := s[Canonical(p)]; ok {
		return v
	}
	var zero T
	return zero
}

// Set returns a new store with the entry for p replaced. The receiver is not
// mutated; entries for other keys are carried over untouched.
func (s PathStore[T]) Set(p AreaPath, v T) PathStore[T] {
	next := make(PathStore[T], len(s)+1)
	for k, existing := range s {
		next[k] = existing
	}
	next[Canonical(p)] = v
	return next
}

// Delete returns a new store without the entry for p. Deleting a missing key
// returns the receiver itself so callers can detect "no change".
func (s PathStore[T]) Delete(p AreaPath) PathStore[T] {
	key := Canonical(p)
	if _, ok := s[key]; !ok {
		return s
	}
	next := make(PathStore[T], len(s))
	for k, existing := range s {
		if k != key {
			next[k] = existing
		}
	}
	return next
}

// Reconcile removes every store entry whose key is not a live path in tree:
// keys that fail to parse are stale internal state and are dropped silently,
// and keys that parse but no longer resolve are dropped the same way. The
// comparison re-canonicalizes the parsed key so a key and a tree-derived path
// meet in the same representation. When nothing is dropped the input store is
// returned unchanged, same instance, so callers can skip a persistence write.
func Reconcile[T any](tree []AreaNode, s PathStore[T]) PathStore[T] {
	valid := ValidPaths(tree)
	drop := make([]string, 0)
	for key := range s {
		p, err := ParsePath(key)
		if err != nil {
			drop = append(drop, key)
			continue
		}
		if _, ok := valid[Canonical(p)]; !ok {
			drop = append(drop, key)
		}
	}
	if len(drop) == 0 {
		return s
	}
	next := make(PathStore[T], len(s)-len(drop))
	for key, v := range s {
		next[key] = v
	}
	for _, key := range drop {
		delete(next, key)
	}
	return next
}
