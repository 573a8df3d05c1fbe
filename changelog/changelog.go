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

// Package changelog implements the declarative XML Changelog Engine,
// spec.md §4.E.1: an ordered list of module-upgrade entries, each
// gating a list of steps (rename, replace, insert, delete, move)
// behind where/when guards, applied during startup replay (package
// startup) when a module's authored revision lags its current schema
// revision.
//
// SPEC_FULL.md §4.E.1 additionally recovers the original's ability to
// run a hand-written upgrade callback inline with declarative steps
// (GoFunc) and to run a scripted step body (op "script") where a purely
// declarative rewrite can't express the transform.
package changelog

import (
	"fmt"

	"github.com/confcore/confcore/tree"
	"github.com/confcore/confcore/xpath"
	"github.com/confcore/confcore/yang"
)

// Op is one of the step operations spec.md §4.E.1 names, plus "script"
// (SPEC_FULL.md supplemental).
type Op string

const (
	OpRename  Op = "rename"
	OpReplace Op = "replace"
	OpInsert  Op = "insert"
	OpDelete  Op = "delete"
	OpMove    Op = "move"
	OpScript  Op = "script"
)

// Step is one changelog operation. Where selects the target node(s);
// When, if set, is re-evaluated per matched node and skips it on false.
// The op-specific fields mirror spec.md §4.E.1: Tag for rename, Dst for
// move, New for replace/insert. Script and GoFunc are the
// SPEC_FULL.md-recovered inline-upgrade extensions.
type Step struct {
	Op    Op
	Where string
	When  string

	Tag    string     // expr-lang string expression yielding the new name (rename)
	Dst    string     // expr-lang string expression yielding a dot-separated destination path (move)
	New    *tree.Node // subtree to graft in (replace replaces matched node's children; insert appends as a child)
	Script string     // goja source for op "script": reads `value`, sets `result` on the matched leaf
	GoFunc string     // name of a callback registered in FuncRegistry, run instead of a built-in op
}

// Entry is one changelog entry: the module (spec.md calls it
// "namespace") and revision interval it applies to, plus its ordered
// steps.
type Entry struct {
	Namespace string
	RevFrom   string
	Revision  string
	Steps     []Step
}

// GoFunc is a hand-written upgrade callback a changelog step may invoke
// by name instead of (or alongside) the declarative op vocabulary.
type GoFunc func(root *tree.Node) error

// Engine runs an ordered list of Entry values against a data tree.
type Engine struct {
	Entries []Entry
	Eval    *xpath.Evaluator
	Funcs   map[string]GoFunc
	Script  *ScriptRunner
}

func New(entries []Entry, ev *xpath.Evaluator) *Engine {
	return &Engine{Entries: entries, Eval: ev, Funcs: map[string]GoFunc{}, Script: NewScriptRunner()}
}

// RegisterFunc adds a named Go upgrade callback a step may reference via
// GoFunc.
func (e *Engine) RegisterFunc(name string, fn GoFunc) { e.Funcs[name] = fn }

// Apply runs every entry whose [RevFrom, Revision] interval overlaps
// the module's [author revision, current revision] interval in diff
// (spec.md §4.E.1), in document order, failing the whole upgrade on the
// first step error (spec.md: "Failure of any op aborts the upgrade").
func (e *Engine) Apply(root *tree.Node, diff yang.ModstateDiff) error {
	byModule := map[string]yang.ModstateEntry{}
	for _, m := range diff {
		byModule[m.Module] = m
	}
	for _, entry := range e.Entries {
		m, ok := byModule[entry.Namespace]
		if !ok || !intervalsOverlap(entry.RevFrom, entry.Revision, m.AuthorRevision, m.CurrentRevision) {
			continue
		}
		for i, step := range entry.Steps {
			if err := e.applyStep(root, step); err != nil {
				return fmt.Errorf("changelog %s [%s,%s] step %d (%s): %w",
					entry.Namespace, entry.RevFrom, entry.Revision, i, step.Op, err)
			}
		}
	}
	return nil
}

func intervalsOverlap(aFrom, aTo, bFrom, bTo string) bool {
	return aFrom <= bTo && bFrom <= aTo
}

func (e *Engine) applyStep(root *tree.Node, step Step) error {
	if step.GoFunc != "" {
		fn, ok := e.Funcs[step.GoFunc]
		if !ok {
			return fmt.Errorf("unregistered GoFunc %q", step.GoFunc)
		}
		return fn(root)
	}

	matches := e.selectNodes(root, step)
	for _, n := range matches {
		if step.When != "" {
			ok, err := e.Eval.EvalBool(step.When, xpath.NodeEnv(n))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}
		if err := e.applyOp(n, step); err != nil {
			return err
		}
	}
	return nil
}

// selectNodes walks root pre-order and collects every node whose Where
// guard evaluates true, the step vocabulary's stand-in for an XPath
// nodeset selection (spec.md §9: "keep the XPath runtime stateless").
func (e *Engine) selectNodes(root *tree.Node, step Step) []*tree.Node {
	var out []*tree.Node
	var walk func(*tree.Node)
	walk = func(n *tree.Node) {
		if n.Kind == tree.KindElement {
			ok, err := e.Eval.EvalBool(step.Where, xpath.NodeEnv(n))
			if err == nil && ok {
				out = append(out, n)
			}
		}
		for _, c := range n.ElementChildren() {
			walk(c)
		}
	}
	walk(root)
	return out
}

func (e *Engine) applyOp(n *tree.Node, step Step) error {
	switch step.Op {
	case OpDelete:
		removeFromParent(n) // idempotent: a node already removed is simply absent from a later selectNodes pass
		return nil
	case OpRename:
		name, err := e.Eval.EvalString(step.Tag, xpath.NodeEnv(n))
		if err != nil {
			return err
		}
		n.Name = name // renaming to the same tag is a no-op assignment
		return nil
	case OpInsert:
		if step.New == nil {
			return fmt.Errorf("insert step has no New subtree")
		}
		n.AddChild(tree.Clone(step.New))
		return nil
	case OpReplace:
		if step.New == nil {
			return fmt.Errorf("replace step has no New subtree")
		}
		replacement := tree.Clone(step.New)
		n.Children = nil
		for _, c := range replacement.Children {
			n.AddChild(c)
		}
		return nil
	case OpMove:
		dst, err := e.Eval.EvalString(step.Dst, xpath.NodeEnv(n))
		if err != nil {
			return err
		}
		target, ok := resolvePath(n, dst)
		if !ok {
			return fmt.Errorf("move destination %q not found", dst)
		}
		removeFromParent(n)
		target.AddChild(n)
		return nil
	case OpScript:
		return e.Script.Run(step.Script, n)
	default:
		return fmt.Errorf("unknown changelog op %q", step.Op)
	}
}

// removeFromParent detaches n from its parent's children, a no-op if n
// is already detached (spec.md §8 idempotence law: "delete of missing =
// no-op").
func removeFromParent(n *tree.Node) {
	if n.Parent == nil {
		return
	}
	siblings := n.Parent.Children
	for i, c := range siblings {
		if c == n {
			n.Parent.Children = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	n.Parent = nil
}

// resolvePath walks a dot-separated path of element names from the
// document root (n's topmost ancestor), the step vocabulary's stand-in
// for an XPath absolute path in a changelog `dst` expression.
func resolvePath(n *tree.Node, dotted string) (*tree.Node, bool) {
	root := n
	for root.Parent != nil {
		root = root.Parent
	}
	cur := root
	for _, name := range splitDotted(dotted) {
		if name == "" {
			continue
		}
		next, ok := cur.Child(name)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func splitDotted(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
