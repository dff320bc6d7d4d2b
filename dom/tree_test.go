package dom_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/xraph/rewind/dom"
)

func page() *dom.Node {
	return &dom.Node{ID: 1, Kind: dom.KindDocument, Children: []*dom.Node{
		{ID: 2, Kind: dom.KindElement, Tag: "html", Children: []*dom.Node{
			{ID: 3, Kind: dom.KindElement, Tag: "body", Children: []*dom.Node{
				{ID: 4, Kind: dom.KindElement, Tag: "h1", Children: []*dom.Node{
					{ID: 5, Kind: dom.KindText, Text: "Hello"},
				}},
			}},
		}},
	}}
}

func TestNewTreeCopiesInput(t *testing.T) {
	src := page()
	tree, err := dom.NewTree(src)
	if err != nil {
		t.Fatal(err)
	}
	src.Children[0].Tag = "mutated"

	n, ok := tree.Node(2)
	if !ok {
		t.Fatal("expected node 2")
	}
	if n.Tag != "html" {
		t.Fatalf("tree shares memory with input: tag=%q", n.Tag)
	}
	if tree.Len() != 5 {
		t.Fatalf("expected 5 nodes, got %d", tree.Len())
	}
}

func TestNewTreeRejectsDuplicateIDs(t *testing.T) {
	src := page()
	src.Children[0].Children[0].Children = append(src.Children[0].Children[0].Children,
		&dom.Node{ID: 4, Kind: dom.KindElement, Tag: "p"})

	if _, err := dom.NewTree(src); !errors.Is(err, dom.ErrDuplicateNode) {
		t.Fatalf("expected ErrDuplicateNode, got %v", err)
	}
}

func TestApply(t *testing.T) {
	tree, err := dom.NewTree(page())
	if err != nil {
		t.Fatal(err)
	}

	ops := []dom.Mutation{
		{Op: dom.OpAdd, ParentID: 3, Node: &dom.Node{ID: 6, Kind: dom.KindElement, Tag: "p", Children: []*dom.Node{
			{ID: 7, Kind: dom.KindText, Text: "first"},
		}}},
		{Op: dom.OpAdd, ParentID: 3, BeforeID: 6, Node: &dom.Node{ID: 8, Kind: dom.KindElement, Tag: "nav"}},
		{Op: dom.OpAttr, ID: 6, Name: "class", Value: "lead"},
		{Op: dom.OpText, ID: 5, Value: "Welcome"},
	}
	for i, m := range ops {
		if err := tree.Apply(m); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
	}

	body, _ := tree.Node(3)
	if len(body.Children) != 3 {
		t.Fatalf("expected 3 body children, got %d", len(body.Children))
	}
	if body.Children[1].ID != 8 {
		t.Fatalf("expected nav inserted before p, got id %d", body.Children[1].ID)
	}

	got := tree.HTML()
	for _, want := range []string{`<p class="lead">first</p>`, "Welcome", "<nav></nav>"} {
		if !strings.Contains(got, want) {
			t.Fatalf("rendered html %q missing %q", got, want)
		}
	}

	if err := tree.Apply(dom.Mutation{Op: dom.OpRemove, ID: 6}); err != nil {
		t.Fatal(err)
	}
	if _, ok := tree.Node(7); ok {
		t.Fatal("removed subtree still indexed")
	}
	if err := tree.Apply(dom.Mutation{Op: dom.OpAttr, ID: 8, Name: "hidden"}); err != nil {
		t.Fatal(err)
	}
	if err := tree.Apply(dom.Mutation{Op: dom.OpAttr, ID: 8, Name: "hidden", Removed: true}); err != nil {
		t.Fatal(err)
	}
	nav, _ := tree.Node(8)
	if _, ok := nav.Attrs["hidden"]; ok {
		t.Fatal("attribute not removed")
	}
}

func TestApplyBrokenReferences(t *testing.T) {
	tests := []struct {
		name string
		m    dom.Mutation
		want error
	}{
		{"unknown parent", dom.Mutation{Op: dom.OpAdd, ParentID: 99, Node: &dom.Node{ID: 10, Kind: dom.KindText}}, dom.ErrUnknownNode},
		{"unknown sibling", dom.Mutation{Op: dom.OpAdd, ParentID: 3, BeforeID: 99, Node: &dom.Node{ID: 10, Kind: dom.KindText}}, dom.ErrUnknownNode},
		{"reused id", dom.Mutation{Op: dom.OpAdd, ParentID: 3, Node: &dom.Node{ID: 5, Kind: dom.KindText}}, dom.ErrDuplicateNode},
		{"child of text", dom.Mutation{Op: dom.OpAdd, ParentID: 5, Node: &dom.Node{ID: 10, Kind: dom.KindText}}, dom.ErrInvalidMutation},
		{"remove unknown", dom.Mutation{Op: dom.OpRemove, ID: 42}, dom.ErrUnknownNode},
		{"remove root", dom.Mutation{Op: dom.OpRemove, ID: 1}, dom.ErrInvalidMutation},
		{"text on element", dom.Mutation{Op: dom.OpText, ID: 4, Value: "x"}, dom.ErrInvalidMutation},
		{"unknown op", dom.Mutation{Op: "swap", ID: 4}, dom.ErrInvalidMutation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := dom.NewTree(page())
			if err != nil {
				t.Fatal(err)
			}
			before := tree.Hash()
			if err := tree.Apply(tt.m); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tree.Hash() != before {
				t.Fatal("failed mutation changed the tree")
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tree, err := dom.NewTree(page())
	if err != nil {
		t.Fatal(err)
	}
	c := tree.Clone()
	if c.Hash() != tree.Hash() {
		t.Fatal("clone hash differs")
	}
	if err := c.Apply(dom.Mutation{Op: dom.OpText, ID: 5, Value: "changed"}); err != nil {
		t.Fatal(err)
	}
	if c.Hash() == tree.Hash() {
		t.Fatal("mutating clone changed original")
	}
	if n, _ := tree.Node(5); n.Text != "Hello" {
		t.Fatalf("original text changed to %q", n.Text)
	}
}

func TestBlank(t *testing.T) {
	b := dom.Blank()
	if b.Len() != 1 {
		t.Fatalf("expected only the document node, got %d", b.Len())
	}
	if b.Text() != "" {
		t.Fatalf("expected empty text, got %q", b.Text())
	}
}
