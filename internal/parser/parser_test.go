package parser

import (
	"testing"
)

func TestParse_KeyToken(t *testing.T) {
	r := Parse("All Of Me - Bb.pdf")
	if r.SongTitle != "All Of Me" {
		t.Errorf("title = %q, want %q", r.SongTitle, "All Of Me")
	}
	if r.KeyToken != "Bb" {
		t.Errorf("key = %q, want Bb", r.KeyToken)
	}
	if r.Category != CategoryChart {
		t.Errorf("category = %q, want chart", r.Category)
	}
	if r.Confidence != ConfidenceHigh {
		t.Errorf("confidence = %q, want high", r.Confidence)
	}
}

func TestParse_KeyTokenNormalized(t *testing.T) {
	for raw, want := range map[string]string{
		"Song - bb.pdf": "Bb",
		"Song - BB.pdf": "Bb",
		"Song - eb.pdf": "Eb",
		"Song - c.pdf":  "C",
		"Song - f#.pdf": "F#",
	} {
		r := Parse(raw)
		if r.KeyToken != want {
			t.Errorf("Parse(%q).KeyToken = %q, want %q", raw, r.KeyToken, want)
		}
	}
}

func TestParse_SubtypeUnderscore(t *testing.T) {
	r := Parse("BlueMoon_Chords.pdf")
	if r.SongTitle != "BlueMoon" {
		t.Errorf("title = %q, want BlueMoon", r.SongTitle)
	}
	if r.Subtype != SubtypeChord {
		t.Errorf("subtype = %q, want chord", r.Subtype)
	}
	if r.Category != CategoryChart {
		t.Errorf("category = %q, want chart", r.Category)
	}
}

func TestParse_SubtypeSingularAndPlural(t *testing.T) {
	for _, raw := range []string{"Blue Moon - Chord.pdf", "Blue Moon - chords.pdf", "Blue Moon - CHORDS.pdf"} {
		r := Parse(raw)
		if r.Subtype != SubtypeChord {
			t.Errorf("Parse(%q).Subtype = %q, want chord", raw, r.Subtype)
		}
	}
}

func TestParse_AudioByExtension(t *testing.T) {
	r := Parse("All Of Me - Bb.mp3")
	if r.Category != CategoryAudio {
		t.Errorf("category = %q, want audio", r.Category)
	}
	if r.SongTitle != "All Of Me" {
		t.Errorf("title = %q", r.SongTitle)
	}

	// No trailing token at all: still audio, still high confidence.
	r = Parse("rehearsal take 3.wav")
	if r.Category != CategoryAudio {
		t.Errorf("category = %q, want audio", r.Category)
	}
	if r.Confidence != ConfidenceHigh {
		t.Errorf("confidence = %q, want high", r.Confidence)
	}
	if r.SongTitle != "rehearsal take 3" {
		t.Errorf("title = %q", r.SongTitle)
	}
}

func TestParse_NoRecognizableToken(t *testing.T) {
	r := Parse("setlist notes.pdf")
	if r.Category != CategoryUnclassified {
		t.Errorf("category = %q, want unclassified", r.Category)
	}
	if r.Confidence != ConfidenceLow {
		t.Errorf("confidence = %q, want low", r.Confidence)
	}
	if r.SongTitle != "setlist notes" {
		t.Errorf("title = %q, want full base name", r.SongTitle)
	}
}

func TestParse_UnknownExtension(t *testing.T) {
	r := Parse("All Of Me - Bb.docx")
	if r.Category != CategoryUnclassified {
		t.Errorf("category = %q, want unclassified", r.Category)
	}
}

func TestParse_DelimiterInTitle(t *testing.T) {
	// The title itself contains the delimiter: the last token wins.
	r := Parse("Love Is Here - Live - Eb.pdf")
	if r.SongTitle != "Love Is Here - Live" {
		t.Errorf("title = %q", r.SongTitle)
	}
	if r.KeyToken != "Eb" {
		t.Errorf("key = %q, want Eb", r.KeyToken)
	}
}

func TestParse_PrefixedPathIgnored(t *testing.T) {
	r := Parse("source/charts/All Of Me - Bb.pdf")
	if r.SongTitle != "All Of Me" {
		t.Errorf("title = %q, want All Of Me", r.SongTitle)
	}
}

func TestParse_Deterministic(t *testing.T) {
	names := []string{
		"All Of Me - Bb.pdf",
		"BlueMoon_Chords.pdf",
		"weird file name!!.xyz",
		"",
	}
	for _, name := range names {
		first := Parse(name)
		for i := 0; i < 5; i++ {
			if got := Parse(name); got != first {
				t.Fatalf("Parse(%q) not deterministic: %+v vs %+v", name, got, first)
			}
		}
	}
}
