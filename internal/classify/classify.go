package classify

import (
	"strings"

	"golang.org/x/net/html"
)

// Page is the rendered document plus the fetch side channel the block
// detector needs.
type Page struct {
	HTML     string
	FinalURL string
	Title    string
	Console  []string
}

// Request names one date to classify: the ISO date and the aria-label the
// site renders for it.
type Request struct {
	Date  string
	Label string
}

// blockMarkers is the closed set of block indicators. Matching is
// case-insensitive against visible text, title, final URL, and console
// output.
var blockMarkers = []string{
	"access denied",
	"forbidden",
	"cloudflare",
	"challenge",
	"captcha",
	"rate limit",
	"too many requests",
	"please try again",
}

// Classify returns a verdict for every requested date. If the page shows
// block indicators, every date is BLOCKED. Otherwise each date is judged
// solely by its own element's inline background-color declaration.
func Classify(page Page, requests []Request, availableColor string) map[string]Verdict {
	verdicts := make(map[string]Verdict, len(requests))

	doc, parseErr := html.Parse(strings.NewReader(page.HTML))

	if isBlocked(page, doc, parseErr) {
		for _, req := range requests {
			verdicts[req.Date] = VerdictBlocked
		}
		return verdicts
	}

	wantColor, wantOK := parseColor(availableColor)

	for _, req := range requests {
		if parseErr != nil || doc == nil {
			verdicts[req.Date] = VerdictNotFound
			continue
		}
		el := findByAriaLabel(doc, req.Label)
		if el == nil {
			verdicts[req.Date] = VerdictNotFound
			continue
		}
		got, ok := backgroundColor(attr(el, "style"))
		if ok && wantOK && got == wantColor {
			verdicts[req.Date] = VerdictAvailable
		} else {
			verdicts[req.Date] = VerdictUnavailable
		}
	}
	return verdicts
}

// isBlocked scans the side channel and the document's visible text for
// block markers. Console lines about CORS are browser noise on these
// sites and are ignored.
func isBlocked(page Page, doc *html.Node, parseErr error) bool {
	var parts []string
	parts = append(parts, page.Title, page.FinalURL)
	for _, line := range page.Console {
		if strings.Contains(strings.ToLower(line), "cors") {
			continue
		}
		parts = append(parts, line)
	}
	if parseErr == nil && doc != nil {
		parts = append(parts, visibleText(doc))
	}

	haystack := strings.ToLower(strings.Join(parts, "\n"))
	for _, marker := range blockMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

// findByAriaLabel returns the first element whose aria-label attribute
// equals label, depth-first in document order.
func findByAriaLabel(n *html.Node, label string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "aria-label") == label {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByAriaLabel(c, label); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// visibleText collects the text content of the document, skipping script
// and style subtrees.
func visibleText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
