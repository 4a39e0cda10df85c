package executor

import (
	"strings"

	"golang.org/x/net/html"
)

// visibleText flattens the rendered document into whitespace-normalized text.
// Script, style, and other non-rendered subtrees are skipped.
func visibleText(rawHTML string) (string, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElement(n.Data) {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return sb.String(), nil
}

func skippedElement(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "template", "head", "iframe":
		return true
	}
	return false
}
