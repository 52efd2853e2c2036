package model

import "testing"

func TestTrackIDStableUnderCosmeticEdits(t *testing.T) {
	base := TrackID("Boards of Canada", "Geogaddi", "1969")

	cases := []struct {
		name                 string
		artist, album, title string
		same                 bool
	}{
		{"identical", "Boards of Canada", "Geogaddi", "1969", true},
		{"case folded", "boards of canada", "GEOGADDI", "1969", true},
		{"whitespace collapsed", "  Boards  of Canada ", "Geogaddi", " 1969", true},
		{"different title", "Boards of Canada", "Geogaddi", "Julie and Candy", false},
		{"different album", "Boards of Canada", "Tomorrow's Harvest", "1969", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TrackID(tc.artist, tc.album, tc.title)
			if (got == base) != tc.same {
				t.Errorf("TrackID(%q,%q,%q) = %s, same as base = %v, want %v",
					tc.artist, tc.album, tc.title, got, got == base, tc.same)
			}
		})
	}
}

func TestTrackIDFieldSeparation(t *testing.T) {
	// "ab"+"c" in one field must not collide with "a"+"bc" split differently.
	if TrackID("ab", "c", "x") == TrackID("a", "bc", "x") {
		t.Error("field boundaries are not separated in the identity hash")
	}
}

func TestLocatorEqual(t *testing.T) {
	a := SourceLocator{Kind: LocatorPath, Value: "/music/a.mp3"}
	if !a.Equal(SourceLocator{Kind: LocatorPath, Value: "/music/a.mp3"}) {
		t.Error("identical locators not equal")
	}
	if a.Equal(SourceLocator{Kind: LocatorBlob, Value: "/music/a.mp3"}) {
		t.Error("locators with different kinds compared equal")
	}
}
