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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffSelfIsEmpty(t *testing.T) {
	root := NewElement("A", "ns", nil)
	root.AddChild(elementLeaf("b", "1"))
	clone := Clone(root)

	d := Compute(root, clone)
	require.Empty(t, d.Deleted)
	require.Empty(t, d.Added)
	require.Empty(t, d.SrcChanged)
	require.Empty(t, d.TgtChanged)
}

func TestDiffAddedDeletedChanged(t *testing.T) {
	src := NewElement("A", "ns", nil)
	src.AddChild(elementLeaf("b", "1"))
	src.AddChild(elementLeaf("removed", "x"))

	tgt := NewElement("A", "ns", nil)
	tgt.AddChild(elementLeaf("b", "2"))
	tgt.AddChild(elementLeaf("added", "y"))

	d := Compute(src, tgt)
	require.Len(t, d.Added, 1)
	require.Equal(t, "added", d.Added[0].Name)
	require.Len(t, d.Deleted, 1)
	require.Equal(t, "removed", d.Deleted[0].Name)
	require.Len(t, d.SrcChanged, 1)
	require.Equal(t, "b", d.SrcChanged[0].Src.Name)

	ApplyFlags(d)
	require.True(t, d.Added[0].Flags.Has(FlagAdd))
	require.True(t, d.Deleted[0].Flags.Has(FlagDel))
	require.True(t, d.SrcChanged[0].Src.Flags.Has(FlagChange))
	require.True(t, src.Flags.Has(FlagChange), "ancestor of changed leaf should be marked CHANGE")
	require.True(t, tgt.Flags.Has(FlagChange))
}

func elementLeaf(name, value string) *Node {
	n := NewElement(name, "ns", nil)
	n.AddChild(NewBody(value))
	return n
}
