package httpclient

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Link is an anchor found in a page.
type Link struct {
	Text string
	Href string
}

// Document holds what the session needs from an HTML page.
type Document struct {
	// Base is the href of the <base> element, if any.
	Base string
	// Links are the anchors of the page in document order.
	Links []Link
	// Resources are embedded resources loaded by a browser together with the
	// page: images, scripts, stylesheets, frames and the favicon.
	Resources []string
}

// ParseDocument walks an HTML body. Malformed markup is tolerated the way
// browsers tolerate it.
func ParseDocument(body []byte) (Document, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Document{}, err
	}
	var doc Document
	seen := make(map[string]struct{})
	addResource := func(src string) {
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") || strings.HasPrefix(src, "javascript:") {
			return
		}
		if _, ok := seen[src]; ok {
			return
		}
		seen[src] = struct{}{}
		doc.Resources = append(doc.Resources, src)
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Base:
				if doc.Base == "" {
					doc.Base = attr(n, "href")
				}
			case atom.A:
				if href, ok := lookup(n, "href"); ok {
					doc.Links = append(doc.Links, Link{Text: strings.TrimSpace(textOf(n)), Href: href})
				}
			case atom.Img, atom.Script, atom.Frame, atom.Iframe, atom.Embed:
				addResource(attr(n, "src"))
			case atom.Input:
				if strings.EqualFold(attr(n, "type"), "image") {
					addResource(attr(n, "src"))
				}
			case atom.Link:
				rel := strings.ToLower(attr(n, "rel"))
				if strings.Contains(rel, "stylesheet") || strings.Contains(rel, "icon") {
					addResource(attr(n, "href"))
				}
			case atom.Body, atom.Table, atom.Td, atom.Th:
				addResource(attr(n, "background"))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return doc, nil
}

func lookup(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, name string) string {
	v, _ := lookup(n, name)
	return v
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if n.DataAtom == atom.Img {
				b.WriteString(attr(n, "alt"))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
