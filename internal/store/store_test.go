package store

import "testing"

type widget struct {
	ID    string
	Owner string
}

func (w widget) RecordID() string { return w.ID }

func TestAppendRejectsDuplicateID(t *testing.T) {
	s := New[string, widget]("widgets")
	if err := s.Append(widget{ID: "w1", Owner: "a"}, nil); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := s.Append(widget{ID: "w1", Owner: "b"}, nil); err == nil {
		t.Fatalf("expected worm violation on duplicate id")
	}
}

func TestLookupBySecondaryIndex(t *testing.T) {
	s := New[string, widget]("widgets")
	_ = s.Append(widget{ID: "w1", Owner: "alice"}, map[string]string{"owner": "alice"})
	_ = s.Append(widget{ID: "w2", Owner: "alice"}, map[string]string{"owner": "alice"})
	_ = s.Append(widget{ID: "w3", Owner: "bob"}, map[string]string{"owner": "bob"})

	got := s.Lookup("owner", "alice")
	if len(got) != 2 {
		t.Fatalf("expected 2 widgets for alice, got %d", len(got))
	}
}

func TestAllPreservesAppendOrder(t *testing.T) {
	s := New[string, widget]("widgets")
	_ = s.Append(widget{ID: "w1"}, nil)
	_ = s.Append(widget{ID: "w2"}, nil)
	_ = s.Append(widget{ID: "w3"}, nil)

	all := s.All()
	if all[0].ID != "w1" || all[1].ID != "w2" || all[2].ID != "w3" {
		t.Fatalf("expected append order preserved, got %+v", all)
	}
}

func TestSortByFuncDoesNotMutateInput(t *testing.T) {
	in := []widget{{ID: "b"}, {ID: "a"}, {ID: "c"}}
	out := SortByFunc(in, func(a, b widget) bool { return a.ID < b.ID })

	if in[0].ID != "b" {
		t.Fatalf("expected input slice untouched, got %+v", in)
	}
	if out[0].ID != "a" || out[1].ID != "b" || out[2].ID != "c" {
		t.Fatalf("expected sorted output, got %+v", out)
	}
}
