package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/models"
)

type Parser interface {
	ParseToChunks(filePath string) ([]models.Chunk, error)
}

type ParserConfig struct {
	Config   *config.Config
	splitter *DocumentSplitter
}

const (
	defaultPageNumber = 1
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// NewParser validates the chunking settings of cfg; a nil cfg uses defaults.
func NewParser(cfg *config.Config) (*ParserConfig, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	splitter, err := NewSplitter(&cfg.RAG)
	if err != nil {
		return nil, err
	}
	return &ParserConfig{Config: cfg, splitter: splitter}, nil
}

// ParseFile parses a document file into chunked Documents with
// source, page and chunk metadata.
func ParseFile(filePath string, cfg *config.Config) ([]models.Document, error) {
	p, err := NewParser(cfg)
	if err != nil {
		return nil, err
	}
	chunks, err := p.ParseToChunks(filePath)
	if err != nil {
		return nil, err
	}

	source := filepath.Base(filePath)
	docs := make([]models.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = models.Document{
			ID:          fmt.Sprintf("%s-p%d-c%d", source, c.PageNumber, c.ChunkID),
			PageContent: c.Content,
			Metadata: map[string]any{
				"source": source,
				"page":   c.PageNumber,
				"chunk":  c.ChunkID,
			},
		}
	}
	log.Debug().Str("file", filePath).Int("chunks", len(docs)).Msg("Parsed file")
	return docs, nil
}

// ParseToChunks dispatches on the file extension.
func (p *ParserConfig) ParseToChunks(filePath string) ([]models.Chunk, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return p.parsePDF(filePath)
	case ".docx":
		return p.parseDOCX(filePath)
	case ".pptx":
		return p.parsePPTX(filePath)
	case ".xlsx":
		return p.parseXLSX(filePath)
	case ".xlsm", ".xltx", ".xltm":
		return p.parseExcelize(filePath)
	case ".md", ".markdown":
		return p.parseMarkdown(filePath)
	case ".txt":
		return p.parseText(filePath)
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, ext)
	}
}

func (p *ParserConfig) parsePDF(filePath string) ([]models.Chunk, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf %s: %w", filePath, err)
	}

	var chunks []models.Chunk
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		pageChunks, err := p.getChunks(normalizeText(pageText), i)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, pageChunks...)
	}
	return chunks, nil
}

func (p *ParserConfig) parseDOCX(filePath string) ([]models.Chunk, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read docx %s: %w", filePath, err)
	}
	defer r.Close()

	// DOCX has no page numbers
	content := extractTextFromXML(r.Editable().GetContent(), "w:t", "w:p")
	return p.getChunks(normalizeText(content), defaultPageNumber)
}

func (p *ParserConfig) parsePPTX(filePath string) ([]models.Chunk, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	slides := slideFiles(f.File)
	var chunks []models.Chunk
	for i, file := range slides {
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		slideChunks, err := p.getChunks(normalizeText(extractTextFromXML(string(data), "a:t", "a:p")), i+1)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, slideChunks...)
	}
	return chunks, nil
}

// slideFiles returns ppt/slides/slideN.xml entries ordered by N.
func slideFiles(files []*zip.File) []*zip.File {
	var slides []*zip.File
	for _, file := range files {
		name := file.Name
		if strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml") {
			slides = append(slides, file)
		}
	}
	num := func(f *zip.File) int {
		var n int
		fmt.Sscanf(strings.TrimPrefix(f.Name, "ppt/slides/slide"), "%d", &n)
		return n
	}
	sort.Slice(slides, func(i, j int) bool { return num(slides[i]) < num(slides[j]) })
	return slides
}

func (p *ParserConfig) parseXLSX(filePath string) ([]models.Chunk, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read xlsx %s: %w", filePath, err)
	}

	var chunks []models.Chunk
	for sheetNum, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		sheetChunks, err := p.getChunks(sheetText(sheet.Name, rows), sheetNum+1)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, sheetChunks...)
	}
	return chunks, nil
}

func (p *ParserConfig) parseExcelize(filePath string) ([]models.Chunk, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook %s: %w", filePath, err)
	}
	defer f.Close()

	var chunks []models.Chunk
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheetName).Msg("Skipping unreadable sheet")
			continue
		}
		sheetChunks, err := p.getChunks(sheetText(sheetName, rows), sheetNum+1)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, sheetChunks...)
	}
	return chunks, nil
}

func (p *ParserConfig) parseMarkdown(filePath string) ([]models.Chunk, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return p.getChunks(markdownToText(data), defaultPageNumber)
}

func (p *ParserConfig) parseText(filePath string) ([]models.Chunk, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return p.getChunks(normalizeText(string(data)), defaultPageNumber)
}

func sheetText(name string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Sheet: %s\n", name)
	for _, row := range rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// markdownToText renders the text content of a markdown document, one block per line.
func markdownToText(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
			return ast.WalkContinue, nil
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
			return ast.WalkContinue, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
				buf.WriteByte('\n')
			}
			return ast.WalkSkipChildren, nil
		}
		if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
			buf.WriteByte('\n')
		}
		return ast.WalkContinue, nil
	})
	return normalizeText(buf.String())
}

// normalizeText trims trailing spaces and squeezes runs of blank lines.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLines.ReplaceAllString(s, "\n\n"))
}

// extractTextFromXML pulls the text runs out of OOXML. Each closing
// paragraph tag starts a new line.
func extractTextFromXML(xmlContent, textTag, paragraphTag string) string {
	var b strings.Builder
	open, closeText, closePara := "<"+textTag, "</"+textTag+">", "</"+paragraphTag+">"
	for i := 0; i < len(xmlContent); {
		nextText := strings.Index(xmlContent[i:], open)
		nextPara := strings.Index(xmlContent[i:], closePara)
		if nextText < 0 && nextPara < 0 {
			break
		}
		if nextPara >= 0 && (nextText < 0 || nextPara < nextText) {
			b.WriteString("\n")
			i += nextPara + len(closePara)
			continue
		}

		start := i + nextText + len(open)
		// skip <w:tab/>, <w:tbl> and friends that share the prefix
		if start < len(xmlContent) && xmlContent[start] != '>' && xmlContent[start] != ' ' {
			i = start
			continue
		}
		gt := strings.IndexByte(xmlContent[start:], '>')
		if gt < 0 {
			break
		}
		if xmlContent[start+gt-1] == '/' {
			i = start + gt + 1
			continue
		}
		bodyStart := start + gt + 1
		end := strings.Index(xmlContent[bodyStart:], closeText)
		if end < 0 {
			break
		}
		b.WriteString(unescapeXML(xmlContent[bodyStart : bodyStart+end]))
		i = bodyStart + end + len(closeText)
	}
	return b.String()
}

var xmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}

// get chunks from content and page number
func (p *ParserConfig) getChunks(content string, pageNumber int) ([]models.Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	chunkStrings, err := p.splitter.SplitText(content)
	if err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, 0, len(chunkStrings))
	for i, chunkString := range chunkStrings {
		chunks = append(chunks, models.Chunk{
			Content:    chunkString,
			PageNumber: pageNumber,
			ChunkID:    i + 1,
		})
	}
	return chunks, nil
}
