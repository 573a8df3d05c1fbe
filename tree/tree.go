/*
 * Copyright 2026 The Confcore Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package tree implements ConfigTree, the canonical configuration
// representation described in spec.md §3, and the diff algorithm of
// spec.md §4.A (component A, "Tree Diff").
//
// A ConfigTree is a rooted, ordered tree of Node values. Three node
// kinds exist: element (named container or list entry), attribute, and
// body (leaf text). Go's garbage collector makes cycles harmless, so
// unlike the arena-of-handles design.md §9 suggests for a systems
// language without a collector, Node keeps an explicit Parent
// back-pointer — simpler to write and to walk when propagating CHANGE
// upward, and just as safe under GC (see DESIGN.md).
package tree

import (
	"sort"

	"github.com/confcore/confcore/yang"
)

// Kind distinguishes the three node kinds spec.md §3 names.
type Kind int

const (
	KindElement Kind = iota
	KindAttribute
	KindBody
)

// Flag is the bitset spec.md §3 attaches to every node: ADD, DEL,
// CHANGE and MARK, set by the diff pass and consumed by the validator
// and the plugin bus.
type Flag uint8

const (
	FlagAdd Flag = 1 << iota
	FlagDel
	FlagChange
	FlagMark
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Node is one element, attribute or body value in a ConfigTree.
type Node struct {
	Kind      Kind
	Name      string
	Namespace string
	Spec      *yang.Statement // nil if this node is explicitly unbound
	Body      string          // meaningful for KindBody
	Children  []*Node
	Flags     Flag
	Parent    *Node
}

// ConfigTree is the canonical configuration representation: a pointer to
// the root Node (a container representing the document root).
type ConfigTree = *Node

// NewElement creates a detached element node.
func NewElement(name, namespace string, spec *yang.Statement) *Node {
	return &Node{Kind: KindElement, Name: name, Namespace: namespace, Spec: spec}
}

// NewBody creates a detached body (leaf text) node.
func NewBody(value string) *Node {
	return &Node{Kind: KindBody, Body: value}
}

// AddChild appends child to n's children and sets its Parent pointer.
func (n *Node) AddChild(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// Body text of an element's own body child, if any — leaves are modeled
// as an element with a single KindBody child holding the text value.
func (n *Node) BodyValue() (string, bool) {
	for _, c := range n.Children {
		if c.Kind == KindBody {
			return c.Body, true
		}
	}
	return "", false
}

// SetBodyValue replaces (or creates) the element's body child.
func (n *Node) SetBodyValue(value string) {
	for _, c := range n.Children {
		if c.Kind == KindBody {
			c.Body = value
			return
		}
	}
	n.AddChild(NewBody(value))
}

// Child returns the first element child with the given name.
func (n *Node) Child(name string) (*Node, bool) {
	for _, c := range n.Children {
		if c.Kind == KindElement && c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ElementChildren returns only the element-kind children, in document
// order.
func (n *Node) ElementChildren() []*Node {
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		if c.Kind == KindElement {
			out = append(out, c)
		}
	}
	return out
}

// Path returns the sequence of element names from the document root
// down to n, used for error-path reporting and XPath evaluation.
func (n *Node) Path() []string {
	if n == nil || n.Parent == nil {
		return nil
	}
	return append(n.Parent.Path(), n.Name)
}

// Key computes the YANG key tuple for a list-entry element, using the
// spec's declared key leaves (spec.md §4.A identity rule for list
// elements). Returns ok=false if the node has no spec or isn't a list.
func (n *Node) Key() ([]string, bool) {
	if n.Spec == nil || n.Spec.Kind != yang.KindList || len(n.Spec.Keys) == 0 {
		return nil, false
	}
	key := make([]string, len(n.Spec.Keys))
	for i, k := range n.Spec.Keys {
		child, ok := n.Child(k)
		if !ok {
			return nil, false
		}
		v, _ := child.BodyValue()
		key[i] = v
	}
	return key, true
}

// identity returns the comparison key spec.md §4.A uses to match nodes
// across two trees: the YANG key tuple for list elements, the body
// value for leaf-lists, and the (namespace, name) pair otherwise.
func identity(n *Node) string {
	if n.Spec != nil {
		switch n.Spec.Kind {
		case yang.KindList:
			if key, ok := n.Key(); ok {
				s := "list:" + n.Namespace + ":" + n.Name
				for _, k := range key {
					s += "\x00" + k
				}
				return s
			}
		case yang.KindLeafList:
			v, _ := n.BodyValue()
			return "leaf-list:" + n.Namespace + ":" + n.Name + "\x00" + v
		}
	}
	return "node:" + n.Namespace + ":" + n.Name
}

// Sort orders n's children recursively with a stable sort: elements
// before attributes before bodies, and keyed list entries by YANG key
// sequence unless their spec declares ordered-by user. Every other child
// keeps its document order; children are not reordered by schema
// definition order.
func Sort(n *Node) {
	if n == nil {
		return
	}
	sort.SliceStable(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Spec != nil && a.Spec.Kind == yang.KindList && a.Spec.OrderedByUser {
			return false // preserve document order
		}
		ka, aok := a.Key()
		kb, bok := b.Key()
		if aok && bok {
			for i := 0; i < len(ka) && i < len(kb); i++ {
				if ka[i] != kb[i] {
					return ka[i] < kb[i]
				}
			}
		}
		return false
	})
	for _, c := range n.Children {
		Sort(c)
	}
}

// Clone deep-copies a subtree, including Parent pointers within the
// copy (the copy's root has a nil Parent).
func Clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	cp := &Node{
		Kind:      n.Kind,
		Name:      n.Name,
		Namespace: n.Namespace,
		Spec:      n.Spec,
		Body:      n.Body,
		Flags:     n.Flags,
	}
	for _, c := range n.Children {
		cp.AddChild(Clone(c))
	}
	return cp
}

// ClearFlags recursively zeroes the diff/validator flag bitset, used
// when a transaction engine reuses a tree across pipeline runs.
func ClearFlags(n *Node) {
	if n == nil {
		return
	}
	n.Flags = 0
	for _, c := range n.Children {
		ClearFlags(c)
	}
}
