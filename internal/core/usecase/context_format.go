package usecase

import (
	"html"
	"strconv"
	"strings"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

const (
	relevantSectionTag = "relevant_information"
	otherSectionTag    = "other_information"
	passageDelimiter   = "---"
)

// FormatContext renders cited passages for the answer generator. Each passage
// is preceded by exactly one <cite documentId="..." page="N" /> marker and
// passages are separated by a delimiter line. Below-threshold passages go into
// a separate section. Returns the no-information sentinel when both are empty.
func FormatContext(relevant, supplementary []domain.CitedChunk) string {
	if len(relevant) == 0 && len(supplementary) == 0 {
		return domain.NoInformationSentinel
	}
	var b strings.Builder
	writeSection(&b, relevantSectionTag, relevant)
	writeSection(&b, otherSectionTag, supplementary)
	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, tag string, chunks []domain.CitedChunk) {
	if len(chunks) == 0 {
		return
	}
	b.WriteString("<" + tag + ">\n")
	for i, chunk := range chunks {
		if i > 0 {
			b.WriteString(passageDelimiter + "\n")
		}
		b.WriteString(citeTag(chunk))
		b.WriteString("\n")
		b.WriteString(passageText(chunk.Text))
		b.WriteString("\n")
	}
	b.WriteString("</" + tag + ">\n")
}

func citeTag(chunk domain.CitedChunk) string {
	return `<cite documentId="` + html.EscapeString(chunk.DocumentID) + `" page="` + strconv.Itoa(chunk.PageNumber) + `" />`
}

// passageText keeps passage content from forging markers, section tags or
// delimiters. Every '<' is escaped, whatever the tag name or case.
func passageText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "<", "&lt;")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == passageDelimiter {
			lines[i] = "- - -"
		}
	}
	return strings.Join(lines, "\n")
}
