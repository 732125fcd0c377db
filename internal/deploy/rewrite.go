package deploy

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Matches a complete script element written on a single line.
var scriptTagPattern = regexp.MustCompile(`<script[^>\n]*></script>`)

// StampRevision replaces every occurrence of placeholder with a copy whose
// value part, after the last ": ", is rev. "revision: ZZZ" becomes
// "revision: abc1234".
func StampRevision(text, placeholder, rev string) string {
	return strings.ReplaceAll(text, placeholder, stampedToken(placeholder, rev))
}

func stampedToken(placeholder, rev string) string {
	if i := strings.LastIndex(placeholder, ": "); i >= 0 {
		return placeholder[:i+2] + rev
	}
	return rev
}

// ReplaceScriptRef swaps one script reference for another.
func ReplaceScriptRef(html, from, to string) string {
	return strings.ReplaceAll(html, from, to)
}

// InlineBundle drops every script element and loads src right before each
// closing body tag instead.
func InlineBundle(html, src string) string {
	html = scriptTagPattern.ReplaceAllString(html, "")
	return strings.ReplaceAll(html, "</body>", fmt.Sprintf(`<script src="%s"></script></body>`, src))
}

// RewriteFile applies fn to the contents of path in place, keeping its mode.
// It reports whether the contents changed.
func RewriteFile(path string, fn func(string) string) (changed bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	out := fn(string(data))
	if out == string(data) {
		return
	}

	if err = os.WriteFile(path, []byte(out), info.Mode().Perm()); err != nil {
		err = fmt.Errorf("failed to write %s: %w", path, err)
		return
	}
	changed = true
	return
}
