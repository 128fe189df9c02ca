// Package parser extracts song metadata from raw chart and audio file names.
package parser

import (
	"path"
	"regexp"
	"strings"
)

// Category classifies what kind of content a file holds.
type Category string

// Categories.
const (
	CategoryChart        Category = "chart"
	CategoryAudio        Category = "audio"
	CategoryUnclassified Category = "unclassified"
)

// Subtype distinguishes chart variants that are filtered by role rather
// than by transposition.
type Subtype string

// Chart subtypes.
const (
	SubtypeNone  Subtype = ""
	SubtypeLead  Subtype = "lead"
	SubtypeChord Subtype = "chord"
	SubtypeFull  Subtype = "full"
)

// Confidence indicates how certain the parse is.
type Confidence string

// Confidence levels.
const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// Result holds the output of parsing a raw file name.
type Result struct {
	SongTitle  string
	KeyToken   string
	Category   Category
	Subtype    Subtype
	Confidence Confidence
}

// keyTokenRe matches transposition tokens such as "Bb", "Eb", "C", "F#".
var keyTokenRe = regexp.MustCompile(`^[A-Ga-g][b#]?$`)

var audioExts = map[string]struct{}{
	".mp3": {}, ".m4a": {}, ".wav": {}, ".ogg": {}, ".flac": {}, ".aac": {},
}

var chartExts = map[string]struct{}{
	".pdf": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".musicxml": {}, ".mxl": {},
}

// subtypeTokens maps recognized trailing tokens (lower-cased) to subtypes.
// Both singular and plural spellings are accepted.
var subtypeTokens = map[string]Subtype{
	"lead":   SubtypeLead,
	"leads":  SubtypeLead,
	"chord":  SubtypeChord,
	"chords": SubtypeChord,
	"full":   SubtypeFull,
}

// Parse derives song metadata from a raw file name. It never fails:
// names it cannot classify are returned with ConfidenceLow so the caller
// can exclude them without aborting. The function is deterministic and
// performs no I/O.
func Parse(rawName string) Result {
	base := path.Base(rawName)
	ext := strings.ToLower(path.Ext(base))
	stem := strings.TrimSuffix(base, path.Ext(base))

	_, isAudio := audioExts[ext]
	_, isChart := chartExts[ext]

	title, token := splitTrailingToken(stem)
	keyToken, subtype, tokenOK := classifyToken(token)

	switch {
	case isAudio:
		// Audio is recognized by extension alone; the trailing token is
		// informational and its absence does not degrade confidence.
		if !tokenOK {
			title = stem
		}
		return Result{
			SongTitle:  strings.TrimSpace(title),
			KeyToken:   keyToken,
			Category:   CategoryAudio,
			Confidence: ConfidenceHigh,
		}
	case isChart && tokenOK:
		return Result{
			SongTitle:  strings.TrimSpace(title),
			KeyToken:   keyToken,
			Category:   CategoryChart,
			Subtype:    subtype,
			Confidence: ConfidenceHigh,
		}
	default:
		// Unknown extension, or a chart without a recognizable trailing
		// token. Song titles may legitimately contain the delimiter, so
		// guessing here would misfile; surface as unclassified instead.
		return Result{
			SongTitle:  strings.TrimSpace(stem),
			Category:   CategoryUnclassified,
			Confidence: ConfidenceLow,
		}
	}
}

// splitTrailingToken splits the stem into (title, trailing token) on the
// last " - " separator, falling back to the last underscore. Returns the
// whole stem and an empty token when no delimiter is present.
func splitTrailingToken(stem string) (string, string) {
	if i := strings.LastIndex(stem, " - "); i >= 0 {
		return stem[:i], strings.TrimSpace(stem[i+3:])
	}
	if i := strings.LastIndex(stem, "_"); i >= 0 {
		return stem[:i], strings.TrimSpace(stem[i+1:])
	}
	return stem, ""
}

// classifyToken recognizes a trailing token as either a key token or a
// chart subtype. Key tokens are normalized to canonical spelling ("Bb",
// "F#"); subtype matching is case-insensitive.
func classifyToken(token string) (string, Subtype, bool) {
	if token == "" {
		return "", SubtypeNone, false
	}
	if st, ok := subtypeTokens[strings.ToLower(token)]; ok {
		return "", st, true
	}
	if keyTokenRe.MatchString(token) {
		return normalizeKey(token), SubtypeNone, true
	}
	return "", SubtypeNone, false
}

// normalizeKey canonicalizes a key token: upper-case note letter, the
// flat marker stays lower-case ("bb" → "Bb").
func normalizeKey(token string) string {
	note := strings.ToUpper(token[:1])
	if len(token) == 1 {
		return note
	}
	if token[1] == '#' {
		return note + "#"
	}
	return note + "b"
}
