package pipeline

import "regexp"

// Known failure signatures in ffprobe/ffmpeg diagnostics, checked in order.
// Text matching none of them is not treated as a failure.
var failureSignatures = []struct {
	name string
	re   *regexp.Regexp
}{
	{"unsupported codec", regexp.MustCompile(
		`(?i)unsupported codec|codec not currently supported|unknown codec|` +
			`no decoder found|decoder (\S+|\(codec \S+\)) not found`)},
	{"missing codec parameters", regexp.MustCompile(
		`(?i)could not find codec parameters`)},
	{"unreadable container", regexp.MustCompile(
		`(?i)invalid data found when processing input|EBML header parsing failed`)},
}

// MatchFailureSignature returns the name of the first known failure
// signature found in diagnostic text.
func MatchFailureSignature(diag string) (string, bool) {
	for _, s := range failureSignatures {
		if s.re.MatchString(diag) {
			return s.name, true
		}
	}
	return "", false
}
