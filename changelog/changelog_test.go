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

package changelog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confcore/confcore/tree"
	"github.com/confcore/confcore/xpath"
	"github.com/confcore/confcore/yang"
)

func buildTree() *tree.Node {
	root := tree.NewElement("config", "", nil)
	iface := tree.NewElement("interface", "", nil)
	oldName := tree.NewElement("if-name", "", nil)
	oldName.SetBodyValue("eth0")
	iface.AddChild(oldName)
	root.AddChild(iface)
	return root
}

func TestRenameStepIsIdempotent(t *testing.T) {
	root := buildTree()
	entries := []Entry{{
		Namespace: "iface-mod",
		RevFrom:   "2020-01-01",
		Revision:  "2021-01-01",
		Steps: []Step{{
			Op:    OpRename,
			Where: `_name == "if-name"`,
			Tag:   `"name"`,
		}},
	}}
	eng := New(entries, xpath.NewEvaluator())
	diff := yang.ModstateDiff{{Module: "iface-mod", AuthorRevision: "2020-06-01", CurrentRevision: "2021-06-01"}}

	require.NoError(t, eng.Apply(root, diff))
	iface, _ := root.Child("interface")
	_, hasOld := iface.Child("if-name")
	require.False(t, hasOld)
	renamed, hasNew := iface.Child("name")
	require.True(t, hasNew)
	val, _ := renamed.BodyValue()
	require.Equal(t, "eth0", val)

	// applying again is a no-op: if-name no longer exists to match Where.
	require.NoError(t, eng.Apply(root, diff))
	_, hasNew2 := iface.Child("name")
	require.True(t, hasNew2)
}

func TestOutOfIntervalEntrySkipped(t *testing.T) {
	root := buildTree()
	entries := []Entry{{
		Namespace: "iface-mod",
		RevFrom:   "2030-01-01",
		Revision:  "2031-01-01",
		Steps: []Step{{
			Op:    OpDelete,
			Where: `_name == "if-name"`,
		}},
	}}
	eng := New(entries, xpath.NewEvaluator())
	diff := yang.ModstateDiff{{Module: "iface-mod", AuthorRevision: "2020-06-01", CurrentRevision: "2021-06-01"}}

	require.NoError(t, eng.Apply(root, diff))
	iface, _ := root.Child("interface")
	_, ok := iface.Child("if-name")
	require.True(t, ok, "entry interval does not overlap, step must not run")
}

func TestDeleteStepIdempotentAcrossDoubleApply(t *testing.T) {
	root := buildTree()
	entries := []Entry{{
		Namespace: "iface-mod",
		RevFrom:   "2020-01-01",
		Revision:  "2021-01-01",
		Steps: []Step{{
			Op:    OpDelete,
			Where: `_name == "if-name"`,
		}},
	}}
	eng := New(entries, xpath.NewEvaluator())
	diff := yang.ModstateDiff{{Module: "iface-mod", AuthorRevision: "2020-06-01", CurrentRevision: "2021-06-01"}}

	require.NoError(t, eng.Apply(root, diff))
	require.NoError(t, eng.Apply(root, diff)) // second pass: nothing left to match, no error
	iface, _ := root.Child("interface")
	_, ok := iface.Child("if-name")
	require.False(t, ok)
}

func TestGoFuncStepRuns(t *testing.T) {
	root := buildTree()
	entries := []Entry{{
		Namespace: "iface-mod",
		RevFrom:   "2020-01-01",
		Revision:  "2021-01-01",
		Steps:     []Step{{GoFunc: "stamp"}},
	}}
	eng := New(entries, xpath.NewEvaluator())
	var ran bool
	eng.RegisterFunc("stamp", func(root *tree.Node) error { ran = true; return nil })
	diff := yang.ModstateDiff{{Module: "iface-mod", AuthorRevision: "2020-06-01", CurrentRevision: "2021-06-01"}}

	require.NoError(t, eng.Apply(root, diff))
	require.True(t, ran)
}

func TestDecodeEntriesFromGenericMap(t *testing.T) {
	raw := []map[string]any{
		{
			"Namespace": "iface-mod",
			"RevFrom":   "2020-01-01",
			"Revision":  "2021-01-01",
			"Steps": []map[string]any{
				{"Op": "rename", "Where": `_name == "if-name"`, "Tag": `"name"`},
			},
		},
	}
	entries, err := DecodeEntries(raw)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "iface-mod", entries[0].Namespace)
	require.Len(t, entries[0].Steps, 1)
	require.Equal(t, OpRename, entries[0].Steps[0].Op)
	require.Equal(t, `"name"`, entries[0].Steps[0].Tag)
}

func TestScriptStepSetsResult(t *testing.T) {
	root := buildTree()
	entries := []Entry{{
		Namespace: "iface-mod",
		RevFrom:   "2020-01-01",
		Revision:  "2021-01-01",
		Steps: []Step{{
			Op:     OpScript,
			Where:  `_name == "if-name"`,
			Script: `var result = value + "-upgraded"`,
		}},
	}}
	eng := New(entries, xpath.NewEvaluator())
	diff := yang.ModstateDiff{{Module: "iface-mod", AuthorRevision: "2020-06-01", CurrentRevision: "2021-06-01"}}

	require.NoError(t, eng.Apply(root, diff))
	iface, _ := root.Child("interface")
	n, _ := iface.Child("if-name")
	val, _ := n.BodyValue()
	require.Equal(t, "eth0-upgraded", val)
}
