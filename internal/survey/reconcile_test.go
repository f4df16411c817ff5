package survey

import (
	"testing"
)

func TestReconcileDropsInvalidEntries(t *testing.T) {
	// one main area with one sub-area
	tree := []AreaNode{{Name: "Press Shop", SubAreas: []AreaNode{{Name: "Stamping Line"}}}}
	store := PathStore[string]{
		Canonical(MainPath(0)):   "main comment",
		Canonical(SubPath(0, 0)): "sub comment",
		Canonical(MainPath(1)):   "dangling",
	}

	next := Reconcile(tree, store)
	if len(next) != 2 {
		t.Fatalf("reconcile kept %d entries, want 2: %v", len(next), next)
	}
	if next.Get(MainPath(0)) != "main comment" || next.Get(SubPath(0, 0)) != "sub comment" {
		t.Error("reconcile dropped a valid entry")
	}
	if _, ok := next[Canonical(MainPath(1))]; ok {
		t.Error("reconcile kept a dangling entry")
	}
}

func TestReconcileAfterSubAreaDelete(t *testing.T) {
	tree := []AreaNode{{
		Name:     "Press Shop",
		SubAreas: []AreaNode{{Name: "Stamping Line", SubAreas: []AreaNode{{Name: "Press 4"}}}},
	}}
	store := PathStore[[]Measurement]{
		Canonical(SubSubPath(0, 0, 0)): {{ID: "m1", Position: "operator ear", LAeq: 92.4}},
	}

	cut, ok := RemoveArea(tree, SubPath(0, 0))
	if !ok {
		t.Fatal("RemoveArea failed")
	}
	next := Reconcile(cut, store)
	if len(next) != 0 {
		t.Errorf("entry under a removed sub-area survived: %v", next)
	}
}

func TestReconcileDropsUnparseableKeys(t *testing.T) {
	tree := []AreaNode{{Name: "Press Shop"}}
	store := PathStore[string]{
		"not json":             "stale",
		Canonical(MainPath(0)): "fine",
	}
	next := Reconcile(tree, store)
	if len(next) != 1 || next.Get(MainPath(0)) != "fine" {
		t.Errorf("unexpected store after reconcile: %v", next)
	}
}

func TestReconcileIdentityWhenClean(t *testing.T) {
	tree := []AreaNode{{Name: "Press Shop", SubAreas: []AreaNode{{Name: "Stamping Line"}}}}
	store := PathStore[string]{
		Canonical(MainPath(0)):   "a",
		Canonical(SubPath(0, 0)): "b",
	}
	next := Reconcile(tree, store)
	if !sameStore(store, next) {
		t.Error("clean reconcile did not return the same store instance")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	tree := []AreaNode{{Name: "Press Shop"}}
	store := PathStore[string]{
		Canonical(MainPath(0)): "keep",
		Canonical(MainPath(3)): "drop",
		"garbage":              "drop",
	}
	once := Reconcile(tree, store)
	twice := Reconcile(tree, once)
	if !sameStore(once, twice) {
		t.Error("second reconcile pass dropped further entries")
	}
}

func TestReconcileCompletenessAndMinimality(t *testing.T) {
	tree := sampleTree()
	store := PathStore[string]{}
	for key := range ValidPaths(tree) {
		store[key] = "valid"
	}
	store[Canonical(SubPath(1, 4))] = "dangling"
	store[Canonical(SubSubPath(5, 0, 0))] = "dangling"

	next := Reconcile(tree, store)
	valid := ValidPaths(tree)
	for key := range next {
		p, err := ParsePath(key)
		if err != nil {
			t.Fatalf("surviving key %q does not parse: %v", key, err)
		}
		if _, ok := valid[Canonical(p)]; !ok {
			t.Errorf("surviving key %q is not valid against the tree", key)
		}
	}
	if len(next) != len(valid) {
		t.Errorf("reconcile removed a valid entry: kept %d, want %d", len(next), len(valid))
	}
}

func TestReconcileAll(t *testing.T) {
	agg := New("srv_test", "avery")
	agg.Areas = []AreaNode{{Name: "Press Shop"}}
	agg.Comments = agg.Comments.Set(MainPath(0), "loud")
	agg.Comments = agg.Comments.Set(MainPath(1), "stale")
	agg.NoiseSources = agg.NoiseSources.Set(MainPath(0), []NoiseSource{{ID: "ns1", Name: "Hydraulic press"}})
	clean := agg.NoiseSources

	next := ReconcileAll(agg)
	if len(next.Comments) != 1 {
		t.Errorf("comments not reconciled: %v", next.Comments)
	}
	if !sameStore(clean, next.NoiseSources) {
		t.Error("untouched category store lost its identity")
	}
}
