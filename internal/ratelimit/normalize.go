package ratelimit

import (
	"regexp"
	"strings"
)

// Spotify object ids are 22-character base62 strings. Numeric segments cover
// offsets and other positional ids.
var (
	spotifyIDRe = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)
	numericRe   = regexp.MustCompile(`^[0-9]+$`)
)

// Normalize collapses a request path to its endpoint pattern so that all
// requests against the same logical operation share one bucket:
// /v1/tracks/4iV5W9uYEdYUVa79Axb7Rh/audio-features -> /v1/tracks/{id}/audio-features
func Normalize(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if spotifyIDRe.MatchString(seg) || numericRe.MatchString(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}
