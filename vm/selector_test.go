package vm

import (
	"bytes"
	"errors"
	"testing"
)

func TestSelectorLookup(t *testing.T) {
	st, err := NewSelectorTable(testVocab())
	if err != nil {
		t.Fatalf("NewSelectorTable: %v", err)
	}

	id, err := st.Lookup("foo")
	if err != nil {
		t.Fatalf("Lookup(foo): %v", err)
	}
	if st.Name(id) != "foo" {
		t.Errorf("Name(%d) = %q, want foo", id, st.Name(id))
	}
	if !st.Has("x") || st.Has("nope") {
		t.Error("Has reported the wrong membership")
	}
	if _, err := st.Lookup("nope"); !errors.Is(err, ErrSelectorNotFound) {
		t.Errorf("Lookup(nope) = %v, want SelectorNotFound", err)
	}
	if got := st.Name(999); got != "<selector 999>" {
		t.Errorf("Name(999) = %q", got)
	}
	if st.Len() != len(testVocab().Selectors) {
		t.Errorf("Len = %d", st.Len())
	}
}

func TestSelectorCacheBinding(t *testing.T) {
	st, err := NewSelectorTable(testVocab())
	if err != nil {
		t.Fatalf("NewSelectorTable: %v", err)
	}
	c := st.Cache()
	if c.X != 1 || c.Y != 2 || c.Info != 0 {
		t.Errorf("cache = info %d x %d y %d, want 0 1 2", c.Info, c.X, c.Y)
	}
	if c.Priority != NoSelector || c.Client != NoSelector {
		t.Error("optional selectors absent from the vocabulary should be NoSelector")
	}
}

func TestSelectorMissingRequired(t *testing.T) {
	vocab := testVocab()
	for i, name := range vocab.Selectors {
		if name == "doit" {
			vocab.Selectors[i] = ""
		}
	}
	_, err := NewSelectorTable(vocab)
	if !errors.Is(err, ErrMissingSelector) {
		t.Fatalf("err = %v, want MissingSelector", err)
	}
	if _, err := NewVM(vocab); !errors.Is(err, ErrMissingSelector) {
		t.Errorf("NewVM err = %v, want MissingSelector", err)
	}
}

func TestSelectorIdentity(t *testing.T) {
	a, _ := NewSelectorTable(testVocab())
	b, _ := NewSelectorTable(testVocab())
	if !bytes.Equal(a.Identity(), b.Identity()) {
		t.Error("identical vocabularies should share an identity")
	}

	changed := testVocab()
	changed.Selectors[len(changed.Selectors)-1] = "third"
	c, _ := NewSelectorTable(changed)
	if bytes.Equal(a.Identity(), c.Identity()) {
		t.Error("renaming a selector should change the identity")
	}

	retagged := testVocab()
	retagged.Version = "test-2"
	d, _ := NewSelectorTable(retagged)
	if bytes.Equal(a.Identity(), d.Identity()) {
		t.Error("changing the version should change the identity")
	}
}

func TestRequiredSelectors(t *testing.T) {
	names := RequiredSelectors()
	want := map[string]bool{"x": true, "y": true, "doit": true, "dispose": true}
	found := 0
	for _, n := range names {
		if want[n] {
			found++
		}
	}
	if found != len(want) {
		t.Errorf("RequiredSelectors() = %v, missing some of %v", names, want)
	}
}
