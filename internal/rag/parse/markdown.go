package parse

import (
	"regexp"
	"strings"
)

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// tableRowRe matches a GFM pipe-table row: at least one "|" with non-empty
// cells on either side.
var tableRowRe = regexp.MustCompile(`^\s*\|?.+\|.+\|?\s*$`)
var tableSeparatorRe = regexp.MustCompile(`^\s*\|?[\s:|-]+\|[\s:|-]+\|?\s*$`)

// MarkdownParser builds a hierarchical Section tree from heading levels
// (# through ######) and extracts GFM pipe tables via a blank-line fence
// scan: a table starts at a header row followed by a separator row and ends
// at the first blank line or non-table-shaped line.
type MarkdownParser struct{}

func (MarkdownParser) Parse(filename string, data []byte) (Document, error) {
	text := string(data)
	lines := strings.Split(text, "\n")

	doc := Document{PageCount: 1}
	var pathStack []string
	var levelStack []int
	var buf strings.Builder

	flush := func() {
		content := strings.TrimSpace(buf.String())
		if content == "" {
			buf.Reset()
			return
		}
		path := strings.Join(pathStack, " > ")
		title := ""
		if len(pathStack) > 0 {
			title = pathStack[len(pathStack)-1]
		}
		doc.Sections = append(doc.Sections, Section{
			Title:   title,
			Level:   len(pathStack),
			Path:    path,
			Content: content,
			Page:    1,
		})
		buf.Reset()
	}

	i := 0
	for i < len(lines) {
		line := lines[i]

		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			if doc.Title == "" && level == 1 {
				doc.Title = title
			}
			for len(levelStack) > 0 && levelStack[len(levelStack)-1] >= level {
				levelStack = levelStack[:len(levelStack)-1]
				pathStack = pathStack[:len(pathStack)-1]
			}
			levelStack = append(levelStack, level)
			pathStack = append(pathStack, title)
			i++
			continue
		}

		if i+1 < len(lines) && tableRowRe.MatchString(line) && tableSeparatorRe.MatchString(lines[i+1]) {
			flush()
			var tableLines []string
			for i < len(lines) && strings.TrimSpace(lines[i]) != "" && tableRowRe.MatchString(lines[i]) {
				tableLines = append(tableLines, lines[i])
				i++
			}
			caption := ""
			if len(doc.Sections) == 0 && len(pathStack) == 0 {
				// no caption context available
			} else if len(pathStack) > 0 {
				caption = pathStack[len(pathStack)-1]
			}
			doc.Tables = append(doc.Tables, TableData{
				Markdown:    strings.Join(tableLines, "\n"),
				Page:        1,
				SectionPath: strings.Join(pathStack, " > "),
				Caption:     caption,
			})
			continue
		}

		buf.WriteString(line)
		buf.WriteString("\n")
		i++
	}
	flush()

	if len(doc.Sections) == 0 && len(doc.Tables) == 0 {
		doc.RawText = strings.TrimSpace(text)
	}
	return doc, nil
}
