package recorder

import (
	"strconv"
	"strings"

	"github.com/xraph/rewind/dom"
)

const maxSelectorDepth = 5

// Selector builds a CSS selector for n that is stable across page loads:
// it stops at the nearest ancestor with an id and otherwise uses tag,
// up to two classes, and :nth-of-type when siblings share the tag.
func Selector(n Node) string {
	if n == nil {
		return ""
	}
	if n.Kind() != dom.KindElement {
		n = n.Parent()
		if n == nil || n.Kind() != dom.KindElement {
			return ""
		}
	}

	var parts []string
	for cur := n; cur != nil && cur.Kind() == dom.KindElement && len(parts) < maxSelectorDepth; cur = cur.Parent() {
		attrs := cur.Attrs()
		if idAttr := attrs["id"]; idAttr != "" {
			parts = append(parts, cur.Tag()+"#"+idAttr)
			break
		}
		part := cur.Tag()
		if cls := strings.Fields(attrs["class"]); len(cls) > 0 {
			part += "." + strings.Join(cls[:min(2, len(cls))], ".")
		}
		if idx, shared := typeIndex(cur); shared {
			part += ":nth-of-type(" + strconv.Itoa(idx) + ")"
		}
		parts = append(parts, part)
		if cur.Tag() == "body" || cur.Tag() == "html" {
			break
		}
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// typeIndex returns the 1-based position of n among same-tag siblings and
// whether any sibling shares its tag.
func typeIndex(n Node) (int, bool) {
	p := n.Parent()
	if p == nil {
		return 1, false
	}
	idx, count := 0, 0
	for _, c := range p.Children() {
		if c.Kind() != dom.KindElement || c.Tag() != n.Tag() {
			continue
		}
		count++
		if c == n {
			idx = count
		}
	}
	return idx, count > 1
}

// Matches reports whether the element n satisfies a simple selector: a tag,
// #id, .class and [attr] / [attr=value] parts in any combination, such as
// "input.card[name=cc]". Combinators are not supported.
func Matches(n Node, sel string) bool {
	if n == nil || n.Kind() != dom.KindElement {
		return false
	}
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return false
	}
	attrs := n.Attrs()
	classes := strings.Fields(attrs["class"])

	i := 0
	readIdent := func() string {
		start := i
		for i < len(sel) && !strings.ContainsRune("#.[", rune(sel[i])) {
			i++
		}
		return sel[start:i]
	}

	if tag := readIdent(); tag != "" && tag != "*" && !strings.EqualFold(tag, n.Tag()) {
		return false
	}
	for i < len(sel) {
		switch sel[i] {
		case '#':
			i++
			if attrs["id"] != readIdent() {
				return false
			}
		case '.':
			i++
			want := readIdent()
			found := false
			for _, c := range classes {
				if c == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case '[':
			end := strings.IndexByte(sel[i:], ']')
			if end < 0 {
				return false
			}
			body := sel[i+1 : i+end]
			i += end + 1
			name, val, hasVal := strings.Cut(body, "=")
			got, ok := attrs[strings.TrimSpace(name)]
			if !ok {
				return false
			}
			if hasVal && got != strings.Trim(strings.TrimSpace(val), `"'`) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
