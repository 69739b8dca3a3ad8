package telegram

import (
	"slices"
	"strings"
)

// textLimit leaves room under the 4096 rune Bot API cap for the tags
// splitText re-emits around HTML chunks.
const textLimit = 4000

// htmlTag is an element left open at a chunk boundary.
type htmlTag struct {
	name string
	open string // the opening tag as written, attributes included
}

// splitText splits long messages into chunks Telegram accepts. It prefers
// newline boundaries. In HTML mode it never cuts inside a tag or an entity,
// and every chunk is balanced: elements still open at a cut are closed at
// the end of the chunk and reopened at the start of the next one.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	isHTML := strings.EqualFold(parseMode, "HTML")

	var (
		out  []string
		open []htmlTag
	)
	start := 0
	for start < len(rs) {
		prefix := reopenTags(open)
		budget := limit
		if isHTML {
			budget = max(limit-len([]rune(prefix))-len([]rune(closeTags(open))), limit/2)
		}
		end := cutPoint(rs, start, budget, isHTML)

		chunk := rs[start:end]
		body := strings.TrimRight(string(chunk), "\n")
		switch {
		case !isHTML:
			out = append(out, body)
		case len(out) > 0 && onlyClosingTags(chunk):
			// the previous chunk already closed these
			open = trackTags(open, chunk)
		default:
			open = trackTags(open, chunk)
			out = append(out, prefix+body+closeTags(open))
		}

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// cutPoint returns the end of the chunk that begins at start.
func cutPoint(rs []rune, start, budget int, isHTML bool) int {
	end := min(start+budget, len(rs))
	if end == len(rs) {
		return end
	}
	for i := end - 1; i > start; i-- {
		// a newline too close to start would make a tiny chunk
		if rs[i] == '\n' && i-start >= budget/3 {
			end = i + 1
			break
		}
	}
	if !isHTML {
		return end
	}
	for i := end - 1; i >= start; i-- {
		if rs[i] == '>' {
			break
		}
		if rs[i] == '<' {
			if i > start {
				end = i
			} else if j := slices.Index(rs[start:], '>'); j >= 0 {
				// a single tag longer than the budget stays whole
				end = start + j + 1
			}
			break
		}
	}
	// entities are at most a few runes long ("&amp;", "&#128512;")
	for i := end - 1; i >= start && i >= end-10; i-- {
		if rs[i] == ';' {
			break
		}
		if rs[i] == '&' {
			if i > start {
				end = i
			}
			break
		}
	}
	return end
}

// trackTags applies the tags found in chunk to the open stack.
func trackTags(open []htmlTag, chunk []rune) []htmlTag {
	for i := 0; i < len(chunk); i++ {
		if chunk[i] != '<' {
			continue
		}
		j := i + 1
		for j < len(chunk) && chunk[j] != '>' {
			j++
		}
		if j == len(chunk) {
			break
		}
		raw := string(chunk[i : j+1])
		i = j

		inner := strings.TrimSpace(raw[1 : len(raw)-1])
		closing := strings.HasPrefix(inner, "/")
		inner = strings.TrimPrefix(inner, "/")
		name, _, _ := strings.Cut(inner, " ")
		name = strings.ToLower(name)
		if name == "" {
			continue
		}
		if !closing {
			open = append(open, htmlTag{name: name, open: raw})
			continue
		}
		for k := len(open) - 1; k >= 0; k-- {
			if open[k].name == name {
				open = open[:k]
				break
			}
		}
	}
	return open
}

func reopenTags(open []htmlTag) string {
	var b strings.Builder
	for _, t := range open {
		b.WriteString(t.open)
	}
	return b.String()
}

func closeTags(open []htmlTag) string {
	var b strings.Builder
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + open[i].name + ">")
	}
	return b.String()
}

// onlyClosingTags reports whether chunk is end tags and whitespace.
func onlyClosingTags(chunk []rune) bool {
	inTag := false
	for i, r := range chunk {
		switch {
		case inTag:
			inTag = r != '>'
		case r == '<':
			if i+1 >= len(chunk) || chunk[i+1] != '/' {
				return false
			}
			inTag = true
		case r != ' ' && r != '\n' && r != '\t':
			return false
		}
	}
	return true
}
