package recorder

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/xraph/rewind/dom"
)

// Node is a live document node as the host sees it. Implementations must be
// comparable and equal for the same underlying node: the recorder keys its
// id map on them.
type Node interface {
	Kind() dom.Kind
	Tag() string
	Attrs() map[string]string
	Text() string
	Parent() Node
	Children() []Node
}

// MutationKind classifies a MutationRecord.
type MutationKind int

const (
	ChildList MutationKind = iota + 1
	Attributes
	CharacterData
)

// MutationRecord reports one change to the live document, in the shape a
// browser mutation observer delivers.
type MutationRecord struct {
	Kind   MutationKind
	Target Node
	// Added and Removed list direct children of Target (ChildList only).
	Added   []Node
	Removed []Node
	// Before is the sibling the added nodes were inserted before; nil
	// means they were appended.
	Before Node
	// Attribute names the changed attribute (Attributes only).
	Attribute string
}

// HTMLNode adapts a golang.org/x/net/html node tree to Node. It is a small
// value type, so two wrappers of the same node compare equal.
type HTMLNode struct {
	n *html.Node
}

// WrapHTML returns the Node for an html node, or nil.
func WrapHTML(n *html.Node) Node {
	if n == nil {
		return nil
	}
	return HTMLNode{n: n}
}

// ParseHTML parses a document and returns its root.
func ParseHTML(r io.Reader) (Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return WrapHTML(doc), nil
}

// ParseHTMLString is ParseHTML over a string.
func ParseHTMLString(s string) (Node, error) {
	return ParseHTML(strings.NewReader(s))
}

// Raw returns the wrapped html node.
func (h HTMLNode) Raw() *html.Node { return h.n }

func (h HTMLNode) Kind() dom.Kind {
	switch h.n.Type {
	case html.DocumentNode:
		return dom.KindDocument
	case html.DoctypeNode:
		return dom.KindDoctype
	case html.ElementNode:
		return dom.KindElement
	case html.TextNode:
		return dom.KindText
	case html.CommentNode:
		return dom.KindComment
	default:
		return 0
	}
}

func (h HTMLNode) Tag() string {
	if h.n.Type != html.ElementNode {
		return ""
	}
	return h.n.Data
}

func (h HTMLNode) Attrs() map[string]string {
	if len(h.n.Attr) == 0 {
		return nil
	}
	m := make(map[string]string, len(h.n.Attr))
	for _, a := range h.n.Attr {
		m[a.Key] = a.Val
	}
	return m
}

func (h HTMLNode) Text() string {
	switch h.n.Type {
	case html.TextNode, html.CommentNode, html.DoctypeNode:
		return h.n.Data
	default:
		return ""
	}
}

func (h HTMLNode) Parent() Node { return WrapHTML(h.n.Parent) }

func (h HTMLNode) Children() []Node {
	var out []Node
	for c := h.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ErrorNode || c.Type == html.RawNode {
			continue
		}
		out = append(out, HTMLNode{n: c})
	}
	return out
}

// FindHTML returns the first element below root matching pred.
func FindHTML(root Node, pred func(Node) bool) Node {
	if root == nil {
		return nil
	}
	if pred(root) {
		return root
	}
	for _, c := range root.Children() {
		if found := FindHTML(c, pred); found != nil {
			return found
		}
	}
	return nil
}

// ByID is a FindHTML predicate matching the id attribute.
func ByID(idAttr string) func(Node) bool {
	return func(n Node) bool {
		return n.Kind() == dom.KindElement && n.Attrs()["id"] == idAttr
	}
}
