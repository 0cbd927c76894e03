package coordinator

import "regexp"

// urlPatterns are tested, in order, against every output chunk; the first
// match wins. Patterns with a capture group prefer the captured URL over
// the full match.
var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(https?://localhost:\d+\S*)`),
	regexp.MustCompile(`(?i)(https?://127\.0\.0\.1:\d+\S*)`),
	regexp.MustCompile(`(?i)(https?://\[::1\]:\d+\S*)`),
	regexp.MustCompile(`(?i)Local:\s+(https?://\S+)`),
	regexp.MustCompile(`(?i)ready on (https?://\S+)`),
	regexp.MustCompile(`(?i)listening on (https?://\S+)`),
	regexp.MustCompile(`(?i)Server running at (https?://\S+)`),
	regexp.MustCompile(`(?i)Started server on (https?://\S+)`),
}

// detectServiceURL tests line against the known dev-server banner
// patterns, returning the first match's captured group (or full match
// when there is no group) and true, or "", false when nothing matches.
func detectServiceURL(line string) (string, bool) {
	for _, re := range urlPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != "" {
			return m[1], true
		}
		return m[0], true
	}
	return "", false
}
