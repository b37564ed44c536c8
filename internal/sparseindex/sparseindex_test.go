package sparseindex

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIndex_Floor(t *testing.T) {
	idx := New()
	idx.Add("jkl", "segment-1", 24)
	idx.Add("vwx", "segment-1", 56)

	tests := map[string]struct {
		key     string
		want    Entry
		wantOK  bool
	}{
		"exact hit returns its own entry": {
			key:    "jkl",
			want:   Entry{Key: "jkl", Pointer: Pointer{Segment: "segment-1", Offset: 24}},
			wantOK: true,
		},
		"key between two samples floors to the lower one": {
			key:    "pqr",
			want:   Entry{Key: "jkl", Pointer: Pointer{Segment: "segment-1", Offset: 24}},
			wantOK: true,
		},
		"key past every sample floors to the last one": {
			key:    "zzz",
			want:   Entry{Key: "vwx", Pointer: Pointer{Segment: "segment-1", Offset: 56}},
			wantOK: true,
		},
		"key before every sample has no floor": {
			key:    "aaa",
			wantOK: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, ok := idx.Floor(tc.key)
			if ok != tc.wantOK {
				t.Fatalf("Floor(%q) ok = %v, want %v", tc.key, ok, tc.wantOK)
			}
			if ok {
				if diff := cmp.Diff(tc.want, got); diff != "" {
					t.Fatalf("Floor(%q) mismatch (-want +got):\n%s", tc.key, diff)
				}
			}
		})
	}
}

func TestIndex_Add_NewestSegmentWins(t *testing.T) {
	idx := New()
	idx.Add("k", "segment-1", 10)
	idx.Add("k", "segment-2", 40)

	got, ok := idx.Find("k")
	if !ok {
		t.Fatal("Find(k) reported absent after two Adds")
	}
	want := Pointer{Segment: "segment-2", Offset: 40}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Find(k) mismatch (-want +got):\n%s", diff)
	}
}

func TestIndex_Clear(t *testing.T) {
	idx := New()
	idx.Add("k", "segment-1", 0)
	idx.Clear()

	if idx.Len() != 0 {
		t.Fatalf("Len() after Clear() = %d, want 0", idx.Len())
	}
	if _, ok := idx.Floor("k"); ok {
		t.Fatal("Floor(k) after Clear() reported present")
	}
}

func TestIndex_InOrder(t *testing.T) {
	idx := New()
	idx.Add("vwx", "segment-1", 56)
	idx.Add("jkl", "segment-1", 24)

	want := []Entry{
		{Key: "jkl", Pointer: Pointer{Segment: "segment-1", Offset: 24}},
		{Key: "vwx", Pointer: Pointer{Segment: "segment-1", Offset: 56}},
	}
	if diff := cmp.Diff(want, idx.InOrder()); diff != "" {
		t.Fatalf("InOrder() mismatch (-want +got):\n%s", diff)
	}
}
