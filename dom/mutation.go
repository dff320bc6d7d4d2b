package dom

// Op names a mutation operation.
type Op string

const (
	// OpAdd inserts Node under ParentID, before BeforeID (0 appends).
	OpAdd Op = "add"
	// OpRemove detaches the subtree rooted at ID.
	OpRemove Op = "remove"
	// OpAttr sets attribute Name to Value on ID, or deletes it when Removed.
	OpAttr Op = "attr"
	// OpText replaces the character data of text or comment node ID.
	OpText Op = "text"
)

// Mutation is a single incremental change to a serialized document.
type Mutation struct {
	Op       Op     `json:"op"`
	ID       int64  `json:"id,omitempty"`
	ParentID int64  `json:"parent,omitempty"`
	BeforeID int64  `json:"before,omitempty"`
	Node     *Node  `json:"node,omitempty"`
	Name     string `json:"name,omitempty"`
	Value    string `json:"value,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
}

// Validate checks that m carries the fields its operation needs. It does not
// consult any tree; reference checks happen in Tree.Apply.
func (m Mutation) Validate() error {
	switch m.Op {
	case OpAdd:
		if m.ParentID == 0 {
			return invalidf("add without parent")
		}
		if m.Node == nil {
			return invalidf("add without node")
		}
		return m.Node.Validate()
	case OpRemove:
		if m.ID == 0 {
			return invalidf("remove without id")
		}
	case OpAttr:
		if m.ID == 0 || m.Name == "" {
			return invalidf("attr requires id and name")
		}
	case OpText:
		if m.ID == 0 {
			return invalidf("text without id")
		}
	default:
		return invalidf("unknown op %q", m.Op)
	}
	return nil
}

// Target returns the id of the node the mutation references first: the
// parent for adds, the node itself otherwise.
func (m Mutation) Target() int64 {
	if m.Op == OpAdd {
		return m.ParentID
	}
	return m.ID
}
