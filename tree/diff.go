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

package tree

// NodePair is a matched (src, tgt) pair whose identity is equal but
// whose leaf body differs — the src_changed/tgt_changed vectors of
// spec.md §3's Transaction record.
type NodePair struct {
	Src *Node
	Tgt *Node
}

// Diff is the four disjoint vectors spec.md §4.A produces from a single
// comparison of two ConfigTrees.
type Diff struct {
	Deleted    []*Node    // present in src only
	Added      []*Node    // present in tgt only
	SrcChanged []NodePair // identity matches, body differs
	TgtChanged []NodePair
}

// Compute walks src and tgt in lock-step over each level of matched
// element identity (spec.md §4.A) and returns the diff vectors. Both
// trees are assumed already Sort-ed and spec-bound. Recursion only
// descends into matched pairs; an added or deleted subtree is reported
// once, at its highest unmatched ancestor.
func Compute(src, tgt *Node) Diff {
	var d Diff
	diffChildren(src, tgt, &d)
	return d
}

func diffChildren(src, tgt *Node, d *Diff) {
	srcByID := map[string]*Node{}
	var srcOrder []string
	for _, c := range src.ElementChildren() {
		id := identity(c)
		srcByID[id] = c
		srcOrder = append(srcOrder, id)
	}
	tgtByID := map[string]*Node{}
	var tgtOrder []string
	for _, c := range tgt.ElementChildren() {
		id := identity(c)
		tgtByID[id] = c
		tgtOrder = append(tgtOrder, id)
	}

	for _, id := range srcOrder {
		sc := srcByID[id]
		if tc, ok := tgtByID[id]; ok {
			compareMatched(sc, tc, d)
		} else {
			d.Deleted = append(d.Deleted, sc)
		}
	}
	for _, id := range tgtOrder {
		if _, ok := srcByID[id]; !ok {
			d.Added = append(d.Added, tgtByID[id])
		}
	}
}

// compareMatched handles a pair of nodes with equal identity: leaves
// compare body text directly, containers/lists recurse into children.
func compareMatched(src, tgt *Node, d *Diff) {
	srcBody, srcHasBody := src.BodyValue()
	tgtBody, tgtHasBody := tgt.BodyValue()
	isLeaf := (srcHasBody || tgtHasBody) && len(src.ElementChildren()) == 0 && len(tgt.ElementChildren()) == 0

	if isLeaf {
		if srcBody != tgtBody {
			d.SrcChanged = append(d.SrcChanged, NodePair{Src: src, Tgt: tgt})
			d.TgtChanged = append(d.TgtChanged, NodePair{Src: src, Tgt: tgt})
		}
		return
	}
	diffChildren(src, tgt, d)
}

// ApplyFlags sets the ADD/DEL/CHANGE flags spec.md §4.A describes:
// deleted subtrees get DEL recursively, added subtrees get ADD
// recursively, changed leaf pairs get CHANGE on both sides, and CHANGE
// propagates upward to every ancestor on both trees.
func ApplyFlags(d Diff) {
	for _, n := range d.Deleted {
		markRecursive(n, FlagDel)
		markAncestorsChanged(n.Parent)
	}
	for _, n := range d.Added {
		markRecursive(n, FlagAdd)
		markAncestorsChanged(n.Parent)
	}
	for _, pair := range d.SrcChanged {
		pair.Src.Flags |= FlagChange
		markAncestorsChanged(pair.Src.Parent)
	}
	for _, pair := range d.TgtChanged {
		pair.Tgt.Flags |= FlagChange
		markAncestorsChanged(pair.Tgt.Parent)
	}
}

func markRecursive(n *Node, flag Flag) {
	n.Flags |= flag
	for _, c := range n.Children {
		markRecursive(c, flag)
	}
}

func markAncestorsChanged(n *Node) {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Flags.Has(FlagChange) {
			return // already marked; ancestors above are too
		}
		cur.Flags |= FlagChange
	}
}
