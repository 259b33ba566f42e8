package domain

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	videoRefPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	queueIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// watchHosts serve /watch?v=ID and /embed/ID.
var watchHosts = map[string]bool{
	"youtube.com":              true,
	"www.youtube.com":          true,
	"m.youtube.com":            true,
	"music.youtube.com":        true,
	"youtube-nocookie.com":     true,
	"www.youtube-nocookie.com": true,
}

// shortHosts serve youtu.be/ID.
var shortHosts = map[string]bool{
	"youtu.be":     true,
	"www.youtu.be": true,
}

// ResolveVideoRef extracts the canonical video id from a user supplied URL.
// Supported shapes:
//   - https://www.youtube.com/watch?v=VIDEO_ID
//   - https://youtu.be/VIDEO_ID
//   - https://www.youtube.com/embed/VIDEO_ID
//
// Anything else, including look-alike hosts, returns ok=false.
func ResolveVideoRef(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	path := u.EscapedPath()

	var ref string
	switch {
	case shortHosts[host]:
		ref = singleSegment(strings.TrimPrefix(path, "/"))
	case watchHosts[host] && path == "/watch":
		ref = u.Query().Get("v")
	case watchHosts[host] && strings.HasPrefix(path, "/embed/"):
		ref = singleSegment(strings.TrimPrefix(path, "/embed/"))
	default:
		return "", false
	}

	if !videoRefPattern.MatchString(ref) {
		return "", false
	}
	return ref, true
}

// IsValidVideoURL is ResolveVideoRef as a predicate.
func IsValidVideoURL(raw string) bool {
	_, ok := ResolveVideoRef(raw)
	return ok
}

// IsValidQueueID accepts generated ids and short preset slugs.
func IsValidQueueID(id string) bool {
	return queueIDPattern.MatchString(id)
}

// singleSegment returns s when it is exactly one non-empty path segment
// (a single trailing slash is tolerated), "" otherwise.
func singleSegment(s string) string {
	s = strings.TrimSuffix(s, "/")
	if s == "" || strings.Contains(s, "/") {
		return ""
	}
	return s
}
