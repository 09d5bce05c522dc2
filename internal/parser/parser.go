// Package parser extracts structured content from HTML using goquery.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/webharvest/crawld/internal/crawler"
)

// Parser implements crawler.Parser. It is stateless and safe for concurrent
// use.
type Parser struct{}

// New creates a Parser.
func New() *Parser {
	return &Parser{}
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	langClassRe  = regexp.MustCompile(`^(?:language|lang)-(.+)$`)
)

// Chrome elements stripped before text extraction so boilerplate does not
// leak into the clean text or the content hash.
const strippedSelectors = "script, style, nav, footer, aside, noscript"

// Parse extracts the title, clean text, and structured content from an HTML
// body. Links and image sources are resolved against baseURL.
func (p *Parser) Parse(body []byte, baseURL string) (crawler.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.ParseResult{}, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return crawler.ParseResult{}, fmt.Errorf("parse base url: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	metaDescription, _ := doc.Find(`meta[name="description"]`).Attr("content")
	breadcrumb := extractBreadcrumb(doc)

	doc.Find(strippedSelectors).Remove()

	structured := crawler.StructuredContent{
		Headings:   extractHeadings(doc),
		Paragraphs: extractParagraphs(doc),
		CodeBlocks: extractCodeBlocks(doc),
		Images:     extractImages(doc, base),
		Links:      extractLinks(doc, base),
		Tables:     extractTables(doc),
		Lists:      extractLists(doc),
	}

	cleanText := collapseWhitespace(doc.Find("body").Text())
	if cleanText == "" {
		cleanText = collapseWhitespace(doc.Text())
	}
	wordCount := len(strings.Fields(cleanText))

	return crawler.ParseResult{
		Title:           title,
		CleanText:       cleanText,
		Structured:      structured,
		Breadcrumb:      breadcrumb,
		MetaDescription: strings.TrimSpace(metaDescription),
		WordCount:       wordCount,
		QualityScore:    qualityScore(structured, wordCount, title, metaDescription),
	}, nil
}

// ReadingTimeMinutes estimates reading time at 200 words per minute, with a
// one minute floor.
func ReadingTimeMinutes(wordCount int) int {
	minutes := wordCount / 200
	if minutes < 1 {
		return 1
	}
	return minutes
}

func extractHeadings(doc *goquery.Document) []crawler.Heading {
	var out []crawler.Heading
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		text := collapseWhitespace(s.Text())
		if text == "" {
			return
		}
		level := int(s.Nodes[0].Data[1] - '0')
		anchor := ""
		if id, ok := s.Attr("id"); ok && id != "" {
			anchor = "#" + id
		}
		out = append(out, crawler.Heading{Level: level, Text: text, Anchor: anchor})
	})
	return out
}

func extractParagraphs(doc *goquery.Document) []string {
	var out []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := collapseWhitespace(s.Text())
		if len(text) > 10 {
			out = append(out, text)
		}
	})
	return out
}

func extractCodeBlocks(doc *goquery.Document) []crawler.CodeBlock {
	var out []crawler.CodeBlock
	doc.Find("pre, code").Each(func(_ int, s *goquery.Selection) {
		// Skip code nested inside pre; the pre captures it.
		if s.Nodes[0].Data == "code" && s.ParentsFiltered("pre").Length() > 0 {
			return
		}
		content := s.Text()
		if strings.TrimSpace(content) == "" {
			return
		}
		block := crawler.CodeBlock{Content: content}
		if class, ok := s.Attr("class"); ok {
			for _, c := range strings.Fields(class) {
				if m := langClassRe.FindStringSubmatch(c); m != nil {
					block.Language = m[1]
					break
				}
			}
		}
		if block.Language == "" {
			if class, ok := s.Find("code").First().Attr("class"); ok {
				for _, c := range strings.Fields(class) {
					if m := langClassRe.FindStringSubmatch(c); m != nil {
						block.Language = m[1]
						break
					}
				}
			}
		}
		out = append(out, block)
	})
	return out
}

func extractImages(doc *goquery.Document, base *url.URL) []crawler.Image {
	var out []crawler.Image
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		resolved, err := base.Parse(src)
		if err != nil {
			return
		}
		alt, _ := s.Attr("alt")
		title, _ := s.Attr("title")
		out = append(out, crawler.Image{Src: resolved.String(), Alt: alt, Title: title})
	})
	return out
}

func extractLinks(doc *goquery.Document, base *url.URL) []crawler.Link {
	var out []crawler.Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := collapseWhitespace(s.Text())
		if strings.TrimSpace(href) == "" {
			return
		}
		if strings.HasPrefix(href, "#") {
			out = append(out, crawler.Link{Href: href, Text: text, Type: crawler.LinkAnchor})
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		linkType := crawler.LinkExternal
		if strings.EqualFold(resolved.Hostname(), base.Hostname()) {
			linkType = crawler.LinkInternal
		}
		out = append(out, crawler.Link{Href: resolved.String(), Text: text, Type: linkType})
	})
	return out
}

func extractTables(doc *goquery.Document) []crawler.Table {
	var out []crawler.Table
	doc.Find("table").Each(func(_ int, s *goquery.Selection) {
		table := crawler.Table{
			Caption: collapseWhitespace(s.Find("caption").First().Text()),
		}
		s.Find("thead th, thead td").Each(func(_ int, cell *goquery.Selection) {
			table.Headers = append(table.Headers, collapseWhitespace(cell.Text()))
		})
		s.Find("tbody tr, > tr").Each(func(_ int, row *goquery.Selection) {
			if row.ParentsFiltered("thead").Length() > 0 {
				return
			}
			var cells []string
			row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, collapseWhitespace(cell.Text()))
			})
			if len(cells) > 0 {
				table.Rows = append(table.Rows, cells)
			}
		})
		if len(table.Rows) > 0 {
			out = append(out, table)
		}
	})
	return out
}

func extractLists(doc *goquery.Document) []crawler.ItemList {
	var out []crawler.ItemList
	doc.Find("ul, ol").Each(func(_ int, s *goquery.Selection) {
		var items []string
		s.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
			text := collapseWhitespace(li.Text())
			if text != "" {
				items = append(items, text)
			}
		})
		if len(items) > 0 {
			out = append(out, crawler.ItemList{
				Ordered: s.Nodes[0].Data == "ol",
				Items:   items,
			})
		}
	})
	return out
}

func extractBreadcrumb(doc *goquery.Document) []string {
	selectors := []string{
		".breadcrumb", ".breadcrumbs", `[aria-label="breadcrumb"]`, "#breadcrumb",
	}
	for _, selector := range selectors {
		container := doc.Find(selector).First()
		if container.Length() == 0 {
			continue
		}
		var crumbs []string
		container.Find("a, span").Each(func(_ int, s *goquery.Selection) {
			text := collapseWhitespace(s.Text())
			if text != "" {
				crumbs = append(crumbs, text)
			}
		})
		if len(crumbs) > 0 {
			return crumbs
		}
	}
	return nil
}

// qualityScore grades a page 0-100 on structural richness: headings,
// paragraph depth, alt-texted images, links, body length, and basic
// metadata presence.
func qualityScore(structured crawler.StructuredContent, wordCount int, title, metaDescription string) float64 {
	score := 0.0
	if len(structured.Headings) > 0 {
		score += 20
	}
	if len(structured.Paragraphs) >= 3 {
		score += 15
	}
	if len(structured.Images) > 0 {
		score += 10
		withAlt := 0
		for _, img := range structured.Images {
			if img.Alt != "" {
				withAlt++
			}
		}
		score += min(10, float64(withAlt)*2)
	}
	if len(structured.Links) > 0 {
		score += 10
	}
	switch {
	case wordCount >= 300:
		score += 15
	case wordCount >= 100:
		score += 10
	}
	if title != "" {
		score += 5
	}
	if strings.TrimSpace(metaDescription) != "" {
		score += 5
	}
	return min(100, score)
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
