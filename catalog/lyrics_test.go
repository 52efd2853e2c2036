package catalog

import (
	"strings"
	"testing"
)

func TestParseLRC(t *testing.T) {
	input := strings.Join([]string{
		"[ar:Some Artist]",
		"[ti:Some Title]",
		"",
		"[00:12.50]First line",
		"[00:21]Second line",
		"[01:02.750]Third line",
		"not a lyric line",
		"[02:00.10][00:05.00]Shared refrain",
	}, "\n")

	lines, err := ParseLRC(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseLRC: %v", err)
	}

	want := []struct {
		at   float64
		text string
	}{
		{5.0, "Shared refrain"},
		{12.5, "First line"},
		{21.0, "Second line"},
		{62.75, "Third line"},
		{120.1, "Shared refrain"},
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %+v", len(lines), len(want), lines)
	}
	for i, w := range want {
		if lines[i].AtSeconds != w.at || lines[i].Text != w.text {
			t.Errorf("line %d = {%v %q}, want {%v %q}", i, lines[i].AtSeconds, lines[i].Text, w.at, w.text)
		}
	}
}

func TestParseLRCEmptyAndGarbage(t *testing.T) {
	lines, err := ParseLRC(strings.NewReader("no timestamps here\n\njust text\n"))
	if err != nil {
		t.Fatalf("ParseLRC: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("got %d lines from garbage input, want 0", len(lines))
	}
}

func TestIsAudioFile(t *testing.T) {
	cases := map[string]bool{
		"/music/a.mp3":  true,
		"/music/a.MP3":  true,
		"/music/a.flac": true,
		"/music/a.ogg":  true,
		"/music/a.wav":  true,
		"/music/a.lrc":  false,
		"/music/a.txt":  false,
		"/music/mp3":    false,
	}
	for path, want := range cases {
		if got := IsAudioFile(path); got != want {
			t.Errorf("IsAudioFile(%q) = %v, want %v", path, got, want)
		}
	}
}
