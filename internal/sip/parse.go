package sip

import "strings"

// StatusCode extracts the numeric status code from a response. It reads
// the first three digits following the protocol/version token on the
// status line and returns 0 if the line is absent or malformed.
// Partial or garbage datagrams are expected on UDP, so malformed input
// is never an error here.
func StatusCode(resp string) int {
	line := resp
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	rest, ok := strings.CutPrefix(line, "SIP/2.0 ")
	if !ok || len(rest) < 3 {
		return 0
	}
	code := 0
	for _, c := range rest[:3] {
		if c < '0' || c > '9' {
			return 0
		}
		code = code*10 + int(c-'0')
	}
	return code
}

// ToTag extracts the tag parameter from the To header of a response.
// The second return value reports whether a tag was present.
func ToTag(resp string) (string, bool) {
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 3 || !strings.EqualFold(line[:3], "To:") {
			continue
		}
		idx := strings.Index(strings.ToLower(line), ";tag=")
		if idx < 0 {
			return "", false
		}
		tag := line[idx+len(";tag="):]
		if end := strings.IndexAny(tag, " ;>\t"); end >= 0 {
			tag = tag[:end]
		}
		if tag == "" {
			return "", false
		}
		return tag, true
	}
	return "", false
}
