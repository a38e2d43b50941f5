package dedup

import (
	"reflect"
	"testing"

	"github.com/ppiankov/feeddigest/internal/feed"
)

func items(pairs ...string) []feed.Item {
	var out []feed.Item
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, feed.Item{Title: pairs[i], Link: pairs[i+1]})
	}
	return out
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		seen Set
		in   []feed.Item
		want []feed.Item
	}{
		{
			name: "nil seen keeps all",
			seen: nil,
			in:   items("a", "https://x/a", "b", "https://x/b"),
			want: items("a", "https://x/a", "b", "https://x/b"),
		},
		{
			name: "seen links removed",
			seen: NewSet("https://x/a"),
			in:   items("a", "https://x/a", "b", "https://x/b"),
			want: items("b", "https://x/b"),
		},
		{
			name: "first occurrence wins",
			seen: NewSet(),
			in:   items("first", "https://x/a", "second", "https://x/a", "c", "https://x/c"),
			want: items("first", "https://x/a", "c", "https://x/c"),
		},
		{
			name: "everything seen",
			seen: NewSet("https://x/a", "https://x/b"),
			in:   items("a", "https://x/a", "b", "https://x/b"),
			want: items(),
		},
		{
			name: "empty input",
			seen: NewSet("https://x/a"),
			in:   nil,
			want: items(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(tt.seen, tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d items, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFilter_DoesNotMutate(t *testing.T) {
	seen := NewSet("https://x/a")
	in := items("a", "https://x/a", "b", "https://x/b", "b2", "https://x/b")
	before := append([]feed.Item(nil), in...)

	Filter(seen, in)

	if len(seen) != 1 || !seen.Has("https://x/a") {
		t.Errorf("seen mutated: %v", seen)
	}
	if !reflect.DeepEqual(in, before) {
		t.Errorf("input mutated: %+v", in)
	}
}

func TestFilter_SeenNeverReemitted(t *testing.T) {
	in := items("a", "https://x/a", "b", "https://x/b")
	first := Filter(nil, in)
	seen := NewSet(Links(first)...)

	if again := Filter(seen, in); len(again) != 0 {
		t.Errorf("second pass emitted %+v", again)
	}
}
