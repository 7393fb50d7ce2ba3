package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// Document is a parsed knowledge source ready to embed. Source is the URL
// passages cite; it defaults to the document's relative path.
type Document struct {
	Path   string
	Source string
	Title  string
	Format DocumentFormat
	Chunks []string
	Topics []string
}

// Parse turns a raw file into a chunked Document.
func Parse(ctx context.Context, path string, data []byte) (Document, error) {
	format := DetectFormat(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	doc := Document{Path: path, Format: format, Title: base}

	var content string
	switch format {
	case FormatMarkdown:
		content = string(data)
		doc.Title = ExtractTitle(content, base)
		doc.Topics = ExtractTopics(content)
		doc.Chunks = ChunkMarkdown(content, defaultChunkSize, defaultChunkOverlap)
	case FormatText:
		content = normalizePlainText(string(data))
		if line := firstNonEmptyLine(content); line != "" {
			doc.Title = line
		}
		doc.Chunks = ChunkMarkdown(content, defaultChunkSize, defaultChunkOverlap)
	case FormatPDF:
		text, err := pdfText(ctx, data)
		if err != nil {
			return Document{}, err
		}
		content = normalizePlainText(text)
		if line := firstNonEmptyLine(content); line != "" {
			doc.Title = line
		}
		doc.Chunks = ChunkMarkdown(content, defaultChunkSize, defaultChunkOverlap)
	case FormatCSV:
		chunks, headers, err := csvChunks(data)
		if err != nil {
			return Document{}, err
		}
		content = string(data)
		doc.Chunks = chunks
		doc.Topics = headers
	default:
		return Document{}, fmt.Errorf("unsupported document format: %s", filepath.Ext(path))
	}

	doc.Source = ExtractSource(content, filepath.ToSlash(path))
	return doc, nil
}

// ExtractTitle returns the first markdown heading, or fallback.
func ExtractTitle(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return fallback
}

// ExtractTopics lists level-two headings.
func ExtractTopics(content string) []string {
	var topics []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			topics = append(topics, strings.TrimSpace(trimmed[3:]))
		}
	}
	return topics
}

// ExtractSource finds a "Source: <url>" line near the top of a document.
// Transcripts and scraped pages carry one; everything else is cited by path.
func ExtractSource(content, fallback string) string {
	lines := strings.SplitN(content, "\n", 12)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 7 && strings.EqualFold(trimmed[:7], "source:") {
			if src := strings.TrimSpace(trimmed[7:]); src != "" {
				return src
			}
		}
	}
	return fallback
}

func pdfText(ctx context.Context, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var pages []string
	for n := 1; n <= reader.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract text of page %d: %w", n, err)
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// csvChunks renders each row as "header: value" lines and packs rows into
// chunks.
func csvChunks(data []byte) ([]string, []string, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	headers := records[0]
	rows := make([]string, 0, len(records)-1)
	for idx, row := range records[1:] {
		rows = append(rows, formatCSVRow(headers, row, idx))
	}

	var topics []string
	for _, h := range headers {
		if h = strings.TrimSpace(h); h != "" {
			topics = append(topics, h)
		}
	}
	return ChunkMarkdown(strings.Join(rows, "\n\n"), defaultChunkSize, defaultChunkOverlap), topics, nil
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func firstNonEmptyLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func formatCSVRow(headers, row []string, idx int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Row %d", idx+1)
	for i, value := range row {
		header := fmt.Sprintf("Column %d", i+1)
		if i < len(headers) && strings.TrimSpace(headers[i]) != "" {
			header = strings.TrimSpace(headers[i])
		}
		b.WriteString("\n")
		b.WriteString(header)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(value))
	}
	return b.String()
}

// ChunkMarkdown packs paragraphs into chunks of about target bytes. When
// overlap is positive the last paragraph of a multi-paragraph chunk opens
// the next one.
func ChunkMarkdown(content string, target, overlap int) []string {
	clean := strings.ReplaceAll(content, "\r\n", "\n")
	var (
		chunks     []string
		current    []string
		currentLen int
	)

	for _, paragraph := range strings.Split(clean, "\n\n") {
		p := strings.TrimSpace(paragraph)
		if p == "" {
			continue
		}

		if currentLen+len(p) > target && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			if overlap > 0 && len(current) > 1 {
				last := current[len(current)-1]
				current = []string{last}
				currentLen = len(last)
			} else {
				current = current[:0]
				currentLen = 0
			}
		}

		current = append(current, p)
		currentLen += len(p)
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}
	return chunks
}
