package channel

import "strings"

const codeFence = "```"

// Paginate splits text into pages of at most maxLines lines. A code fence
// left open at a page boundary is closed at the end of that page and
// reopened at the start of the next, so every page renders on its own.
// Trailing blank lines never start a page of their own. Text that already
// fits is returned unchanged as a single page.
func Paginate(text string, maxLines int) []string {
	lines := trimTrailingBlank(strings.Split(text, "\n"))
	if maxLines <= 0 || len(lines) <= maxLines {
		return []string{text}
	}

	pages := make([]string, 0, (len(lines)+maxLines-1)/maxLines)
	open := false
	for start := 0; start < len(lines); start += maxLines {
		end := min(start+maxLines, len(lines))
		body := strings.Join(lines[start:end], "\n")

		page := body
		if open {
			page = codeFence + "\n" + page
		}
		if strings.Count(body, codeFence)%2 == 1 {
			open = !open
		}
		if open && end < len(lines) {
			page += "\n" + codeFence
		}
		pages = append(pages, page)
	}
	return pages
}

func trimTrailingBlank(lines []string) []string {
	n := len(lines)
	for n > 1 && strings.TrimSpace(lines[n-1]) == "" {
		n--
	}
	return lines[:n]
}
