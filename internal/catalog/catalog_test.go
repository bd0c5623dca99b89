package catalog

import (
	"testing"
)

func TestSanitize(t *testing.T) {
	got := Sanitize([]Song{
		{ID: "  a  ", Title: "  One  ", Artist: "  Artist  "},
		{ID: "a", Title: "Duplicate"},
		{ID: "", Title: "No ID"},
		{ID: "c", Title: "   "},
		{ID: "b", Title: "Two"},
	})

	if len(got) != 2 {
		t.Fatalf("expected 2 songs, got %d: %v", len(got), got)
	}
	if got[0].ID != "a" || got[0].Title != "One" || got[0].Artist != "Artist" {
		t.Fatalf("expected trimmed fields, got %+v", got[0])
	}
	if got[1].ID != "b" {
		t.Fatalf("expected order preserved, got %+v", got[1])
	}
}

func TestSanitizeEmpty(t *testing.T) {
	if got := Sanitize(nil); len(got) != 0 {
		t.Fatalf("expected no songs, got %v", got)
	}
}

func TestStageShufflesACopy(t *testing.T) {
	songs := make([]Song, 20)
	for i := range songs {
		songs[i] = Song{ID: string(rune('a' + i)), Title: "Song"}
	}
	before := make([]Song, len(songs))
	copy(before, songs)

	staged := Stage(songs)

	// Same songs, original ordering untouched
	if len(staged) != len(songs) {
		t.Fatalf("expected %d staged songs, got %d", len(songs), len(staged))
	}
	seen := make(map[string]bool, len(staged))
	for _, s := range staged {
		seen[s.ID] = true
	}
	for _, s := range songs {
		if !seen[s.ID] {
			t.Fatalf("staged queue lost song %q", s.ID)
		}
	}
	for i := range songs {
		if songs[i] != before[i] {
			t.Fatal("staging should not reorder the original selection")
		}
	}
}
