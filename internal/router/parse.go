package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// newReqID returns a short id that ties the log lines of one command
// together.
func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// tokenizeCommandLine splits a message into words. Single or double quotes
// group words and a backslash escapes the next character, so
//
//	/start_check "check_devices" 15
//
// yields three tokens.
func tokenizeCommandLine(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
		case unicode.IsSpace(r):
			if cur.Len() > 0 {
				out = append(out, cur.String())
			}
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// commandWord returns the command name of a "/name@bot" token, or "" when
// tok is not a command.
func commandWord(tok string) string {
	name, ok := strings.CutPrefix(tok, "/")
	if !ok {
		return ""
	}
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name)
}
