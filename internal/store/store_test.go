package store

import (
	"testing"

	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
)

func TestFilterMatch(t *testing.T) {
	doc := model.Document{"id": "c1", "ownerId": "u1"}
	cases := []struct {
		f    Filter
		want bool
	}{
		{Filter{}, true},
		{Filter{ID: "c1"}, true},
		{Filter{ID: "c2"}, false},
		{Filter{OwnerID: "u1"}, true},
		{Filter{OwnerID: "u2"}, false},
		{Filter{ID: "c1", OwnerID: "u2"}, false},
	}
	for _, tc := range cases {
		if got := tc.f.Match(doc); got != tc.want {
			t.Fatalf("Match(%+v) = %v, want %v", tc.f, got, tc.want)
		}
	}
}

func TestMergeFieldsKeepsSiblings(t *testing.T) {
	existing := model.Document{"id": "u1", "theme": "dark", "timestamp": 1.0}
	merged := MergeFields(existing, model.Document{"visualMatrix": map[string]any{"accentColor": "#fff"}, "timestamp": 2.0}, "u1")
	if merged["theme"] != "dark" {
		t.Fatalf("sibling field lost: %v", merged)
	}
	if merged["timestamp"] != 2.0 {
		t.Fatalf("timestamp not overwritten: %v", merged)
	}
	if existing["timestamp"] != 1.0 {
		t.Fatalf("existing document mutated")
	}
	if MergeFields(nil, model.Document{"a": "b"}, "x")["id"] != "x" {
		t.Fatalf("expected id on fresh merge")
	}
}
