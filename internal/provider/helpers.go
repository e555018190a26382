package provider

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// userAgent identifies the tracker on every outbound request.
const userAgent = "crypto-accuracy-tracker/1.0 (+https://example.local/)"

// maxLoggedBody caps response bodies quoted in diagnostics.
const maxLoggedBody = 200

// monthFirstLayouts are attempted before dayFirstLayouts, so an ambiguous
// numeric date like 06/01/2024 resolves month-first (June 1). Unpadded
// layout digits accept padded input too.
var monthFirstLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"1/2/2006",
	"1-2-2006",
	"1/2/06",
	"1-2-06",
	"Jan 2, 2006",
	"January 2, 2006",
}

var dayFirstLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2/1/06",
	"2-1-06",
	"2 Jan 2006",
	"2 January 2006",
}

// parseFlexibleDate parses a prediction date leniently: month-first
// interpretation first, day-first as fallback. Returns false when neither
// reading works.
func parseFlexibleDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range monthFirstLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parsePriceToken(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "$")
	v = strings.ReplaceAll(v, ",", "")
	v = strings.ReplaceAll(v, " ", "")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func truncateBody(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// flattenBlockText joins the trimmed text nodes under a selection with a
// separator, so values split across child elements stay distinct tokens.
func flattenBlockText(sel *goquery.Selection) string {
	parts := make([]string, 0, 16)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if txt := strings.TrimSpace(n.Data); txt != "" {
				parts = append(parts, txt)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, node := range sel.Nodes {
		walk(node)
	}
	return strings.Join(parts, " | ")
}
