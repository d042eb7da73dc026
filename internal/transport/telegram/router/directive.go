package router

import (
	"regexp"
	"strings"
)

// reDirective matches an inline "!schedule <spec>" trailer anywhere in a
// message; everything after the keyword is the time spec.
var reDirective = regexp.MustCompile(`(?is)!schedule\s+(.+)$`)

// ExtractDirective pulls an inline scheduling directive out of a message.
// It returns the message body with the directive removed, the time spec,
// and whether a directive was present.
func ExtractDirective(text string) (body, spec string, ok bool) {
	m := reDirective.FindStringSubmatchIndex(text)
	if m == nil {
		return text, "", false
	}
	spec = strings.TrimSpace(text[m[2]:m[3]])
	body = strings.TrimSpace(text[:m[0]])
	return body, spec, true
}
