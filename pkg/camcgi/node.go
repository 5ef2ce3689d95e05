package camcgi

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// Node is a generic XML element. Device replies are small and loosely
// structured, so they are kept as a tree instead of typed structs.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []Node     `xml:",any"`
}

// ParseNode decodes data into a Node tree.
func ParseNode(data []byte) (*Node, error) {
	var n Node
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Name returns the local element name.
func (n *Node) Name() string { return n.XMLName.Local }

// Value returns the trimmed text content.
func (n *Node) Value() string { return strings.TrimSpace(n.Text) }

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Child returns the first direct child with the given local name.
func (n *Node) Child(name string) *Node {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == name {
			return &n.Children[i]
		}
	}
	return nil
}

// ChildText returns the trimmed text of the named child, or "".
func (n *Node) ChildText(name string) string {
	if c := n.Child(name); c != nil {
		return c.Value()
	}
	return ""
}

// Find follows a slash separated path of child names.
func (n *Node) Find(path string) *Node {
	cur := n
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		if cur = cur.Child(part); cur == nil {
			return nil
		}
	}
	return cur
}

// FindAll returns every descendant (depth first) for which match is true.
func (n *Node) FindAll(match func(*Node) bool) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(x *Node) {
		for i := range x.Children {
			c := &x.Children[i]
			if match(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// Map returns the text of every direct child keyed by name, skipping the
// names listed in except.
func (n *Node) Map(except ...string) map[string]string {
	out := make(map[string]string, len(n.Children))
	for _, c := range n.Children {
		name := c.XMLName.Local
		skip := false
		for _, e := range except {
			if e == name {
				skip = true
				break
			}
		}
		if !skip {
			out[name] = c.Value()
		}
	}
	return out
}
