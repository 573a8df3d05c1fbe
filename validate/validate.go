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

// Package validate implements the Generic Validator, component B of
// spec.md §4.B: YANG structural/type/cardinality constraints, must/when
// expressions, key uniqueness, unique constraints, leafref resolution
// and default-value fill-in.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/confcore/confcore/mgmterror"
	"github.com/confcore/confcore/tree"
	"github.com/confcore/confcore/xpath"
	"github.com/confcore/confcore/yang"
)

// Validator runs the checks spec.md §4.B names against a bound
// ConfigTree. It holds the YangSpec capability and the expression
// evaluator used for must/when.
type Validator struct {
	Spec *yang.StaticSpec
	Expr *xpath.Evaluator
	// StopOnFirst, when true, makes ValidateAllTop/ValidateAdd return
	// after the first structural error instead of accumulating every
	// failure (spec.md §4.B: "the caller may stop on the first").
	StopOnFirst bool
}

func New(spec *yang.StaticSpec, ev *xpath.Evaluator) *Validator {
	return &Validator{Spec: spec, Expr: ev}
}

// FillDefaults walks root against the schema and fills in missing
// leaves that carry a YANG-declared default, cascading into freshly
// created default containers. Must run before validation (spec.md
// §4.B).
func (v *Validator) FillDefaults(root *tree.Node) {
	v.fillDefaults(root, v.Spec.Root())
}

func (v *Validator) fillDefaults(n *tree.Node, spec *yang.Statement) {
	if spec == nil {
		return
	}
	for _, childName := range spec.ChildOrder {
		childSpec := spec.Children[childName]
		existing, has := n.Child(childName)
		if childSpec.Kind == yang.KindLeaf && childSpec.HasDefault && !has {
			leaf := tree.NewElement(childSpec.Name, n.Namespace, childSpec)
			leaf.SetBodyValue(childSpec.Default)
			n.AddChild(leaf)
			continue
		}
		if childSpec.Kind == yang.KindContainer {
			if has {
				v.fillDefaults(existing, childSpec)
				continue
			}
			created := tree.NewElement(childSpec.Name, n.Namespace, childSpec)
			v.fillDefaults(created, childSpec)
			if len(created.Children) > 0 {
				n.AddChild(created)
			}
		}
	}
}

// ValidateAllTop walks the entire target tree and enforces every
// constraint spec.md §4.B lists.
func (v *Validator) ValidateAllTop(root *tree.Node) mgmterror.List {
	var errs mgmterror.List
	v.validateSubtree(root, &errs)
	return errs
}

// ValidateAdd runs the same checks on a single subtree, used during
// incremental edits and during the added-vector pass of commit (spec.md
// §4.B).
func (v *Validator) ValidateAdd(n *tree.Node) mgmterror.List {
	var errs mgmterror.List
	v.validateSubtree(n, &errs)
	return errs
}

func (v *Validator) stop(errs *mgmterror.List) bool {
	return v.StopOnFirst && len(*errs) > 0
}

func (v *Validator) validateSubtree(n *tree.Node, errs *mgmterror.List) {
	if v.stop(errs) {
		return
	}
	spec := n.Spec
	if spec != nil {
		v.checkNode(n, spec, errs)
	}
	if v.stop(errs) {
		return
	}
	for _, child := range n.ElementChildren() {
		v.validateSubtree(child, errs)
		if v.stop(errs) {
			return
		}
	}
}

func (v *Validator) checkNode(n *tree.Node, spec *yang.Statement, errs *mgmterror.List) {
	path := yang.PathString(n.Path())

	switch spec.Kind {
	case yang.KindLeaf, yang.KindLeafList:
		value, has := n.BodyValue()
		if !has && spec.Mandatory {
			*errs = append(*errs, mgmterror.New(mgmterror.TagMissingElement, path,
				fmt.Sprintf("mandatory leaf %q has no value", spec.Name)))
			return
		}
		if has && spec.Type != nil {
			if err := checkType(value, spec.Type, path); err != nil {
				*errs = append(*errs, err)
			}
			if spec.Type.Name == "identityref" {
				v.checkIdentityref(value, spec.Type, path, errs)
			}
			if spec.Type.Name == "leafref" {
				v.checkLeafref(n, value, spec.Type, path, errs)
			}
		}
	case yang.KindList:
		v.checkList(n, spec, path, errs)
	}

	if spec.When != "" {
		ok, err := v.Expr.EvalBool(spec.When, xpath.NodeEnv(n))
		if err == nil && !ok {
			// an unsatisfied `when` removes the node from the
			// applicable schema rather than failing validation;
			// callers that need strict enforcement use `must`.
			return
		}
	}
	for _, mustExpr := range spec.Must {
		ok, err := v.Expr.EvalBool(mustExpr, xpath.NodeEnv(n))
		if err != nil {
			*errs = append(*errs, mgmterror.New(mgmterror.TagOperationFailed, path,
				fmt.Sprintf("must expression error: %s", err)))
			continue
		}
		if !ok {
			*errs = append(*errs, mgmterror.New(mgmterror.TagOperationFailed, path,
				fmt.Sprintf("must constraint %q not satisfied", mustExpr)))
		}
	}
}

func (v *Validator) checkList(n *tree.Node, spec *yang.Statement, path string, errs *mgmterror.List) {
	// List cardinality/uniqueness is checked from the parent's point of
	// view (spec.md §4.B: min-elements/max-elements, key uniqueness,
	// unique constraints apply across all entries of a list).
	var siblings []*tree.Node
	if n.Parent != nil {
		for _, c := range n.Parent.ElementChildren() {
			if c.Name == spec.Name {
				siblings = append(siblings, c)
			}
		}
	} else {
		siblings = []*tree.Node{n}
	}
	// Only run this aggregate check once, on the first entry seen.
	if n.Parent != nil && siblings[0] != n {
		return
	}

	if spec.MinElements > 0 && len(siblings) < spec.MinElements {
		*errs = append(*errs, mgmterror.New(mgmterror.TagDataMissing, path,
			fmt.Sprintf("list %q requires at least %d entries, has %d", spec.Name, spec.MinElements, len(siblings))))
	}
	if spec.MaxElements > 0 && len(siblings) > spec.MaxElements {
		*errs = append(*errs, mgmterror.New(mgmterror.TagOperationFailed, path,
			fmt.Sprintf("list %q allows at most %d entries, has %d", spec.Name, spec.MaxElements, len(siblings))))
	}

	seenKeys := map[string]bool{}
	for _, entry := range siblings {
		key, ok := entry.Key()
		if !ok {
			continue
		}
		k := strings.Join(key, "\x00")
		if seenKeys[k] {
			*errs = append(*errs, mgmterror.New(mgmterror.TagDataExists, path,
				fmt.Sprintf("duplicate key %v in list %q", key, spec.Name)))
		}
		seenKeys[k] = true
	}

	for _, uniqueLeaves := range spec.Unique {
		seen := map[string]bool{}
		for _, entry := range siblings {
			var parts []string
			for _, leafName := range uniqueLeaves {
				if c, ok := entry.Child(leafName); ok {
					v, _ := c.BodyValue()
					parts = append(parts, v)
				}
			}
			k := strings.Join(parts, "\x00")
			if seen[k] {
				*errs = append(*errs, mgmterror.New(mgmterror.TagOperationFailed, path,
					fmt.Sprintf("unique constraint %v violated in list %q", uniqueLeaves, spec.Name)))
			}
			seen[k] = true
		}
	}
}

func (v *Validator) checkIdentityref(value string, t *yang.TypeSpec, path string, errs *mgmterror.List) {
	if t.IdentityBase == "" {
		return
	}
	if !v.Spec.IdentityDerivesFrom(value, t.IdentityBase) {
		*errs = append(*errs, mgmterror.New(mgmterror.TagInvalidValue, path,
			fmt.Sprintf("identity %q does not derive from base %q", value, t.IdentityBase)))
	}
}

// checkLeafref resolves TypeSpec.LeafrefPath against the data tree n is
// bound into and reports a dangling reference (spec.md §4.B "leafref
// resolution") when no instance at the target path carries value. A
// leafref with no declared path is treated as unconstrained.
func (v *Validator) checkLeafref(n *tree.Node, value string, t *yang.TypeSpec, path string, errs *mgmterror.List) {
	if t.LeafrefPath == "" {
		return
	}
	targets := resolveLeafrefTargets(n, t.LeafrefPath)
	for _, target := range targets {
		if tv, ok := target.BodyValue(); ok && tv == value {
			return
		}
	}
	*errs = append(*errs, mgmterror.New(mgmterror.TagDataMissing, path,
		fmt.Sprintf("leafref value %q does not resolve against path %q", value, t.LeafrefPath)))
}

// resolveLeafrefTargets walks pathExpr's slash-separated node-identifiers
// against the data tree, starting at the document root for an absolute
// path (leading "/") or at n itself for a relative one, where each ".."
// step moves to the parent. A module prefix on a segment ("if:name") is
// stripped since confcore's data tree is keyed by local name. Stepping
// through a list or leaf-list without a predicate fans out across every
// instance, matching YANG leafref semantics when the path names a key
// leaf shared by every entry.
func resolveLeafrefTargets(n *tree.Node, pathExpr string) []*tree.Node {
	pathExpr = strings.TrimSpace(pathExpr)
	segments := strings.Split(pathExpr, "/")

	var cur []*tree.Node
	if strings.HasPrefix(pathExpr, "/") {
		root := n
		for root.Parent != nil {
			root = root.Parent
		}
		cur = []*tree.Node{root}
		segments = segments[1:]
	} else {
		cur = []*tree.Node{n}
	}

	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			var next []*tree.Node
			for _, c := range cur {
				if c.Parent != nil {
					next = append(next, c.Parent)
				}
			}
			cur = next
			continue
		}
		if i := strings.IndexByte(seg, ':'); i >= 0 {
			seg = seg[i+1:]
		}
		var next []*tree.Node
		for _, c := range cur {
			for _, child := range c.ElementChildren() {
				if child.Name == seg {
					next = append(next, child)
				}
			}
		}
		cur = next
	}
	return cur
}

// checkType enforces spec.md §4.B's type constraint list: range, length,
// pattern, enumeration, union alternatives, decimal64 fraction-digits
// and bits. identityref base is checked separately since it needs the
// Spec's identity graph.
func checkType(value string, t *yang.TypeSpec, path string) *mgmterror.Error {
	switch t.Name {
	case "union":
		for _, alt := range t.Union {
			if checkType(value, alt, path) == nil {
				return nil
			}
		}
		return mgmterror.New(mgmterror.TagInvalidValue, path,
			fmt.Sprintf("value %q does not match any union alternative", value))
	case "enumeration":
		for _, e := range t.Enums {
			if e == value {
				return nil
			}
		}
		return mgmterror.New(mgmterror.TagInvalidValue, path,
			fmt.Sprintf("value %q is not a valid enumeration member", value))
	case "bits":
		for _, b := range strings.Fields(value) {
			found := false
			for _, declared := range t.Bits {
				if declared == b {
					found = true
					break
				}
			}
			if !found {
				return mgmterror.New(mgmterror.TagInvalidValue, path,
					fmt.Sprintf("bit %q is not declared", b))
			}
		}
		return nil
	case "decimal64":
		if err := checkDecimal64(value, t.FractionDigits); err != nil {
			return mgmterror.New(mgmterror.TagInvalidValue, path, err.Error())
		}
		return nil
	case "string":
		if t.MinLength != nil && len(value) < *t.MinLength {
			return mgmterror.New(mgmterror.TagInvalidValue, path,
				fmt.Sprintf("length %d below minimum %d", len(value), *t.MinLength))
		}
		if t.MaxLength != nil && len(value) > *t.MaxLength {
			return mgmterror.New(mgmterror.TagInvalidValue, path,
				fmt.Sprintf("length %d above maximum %d", len(value), *t.MaxLength))
		}
		if t.Pattern != "" {
			re, err := regexp.Compile(t.Pattern)
			if err != nil {
				return mgmterror.New(mgmterror.TagOperationFailed, path, "invalid pattern: "+err.Error())
			}
			if !re.MatchString(value) {
				return mgmterror.New(mgmterror.TagInvalidValue, path,
					fmt.Sprintf("value %q does not match pattern %q", value, t.Pattern))
			}
		}
		return nil
	default:
		// Numeric integer types (uintN/intN): range check.
		if t.MinRange != nil || t.MaxRange != nil {
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return mgmterror.New(mgmterror.TagInvalidValue, path,
					fmt.Sprintf("value %q is not a valid %s", value, t.Name))
			}
			if t.MinRange != nil && n < *t.MinRange {
				return mgmterror.New(mgmterror.TagInvalidValue, path,
					fmt.Sprintf("value %d below minimum %d", n, *t.MinRange))
			}
			if t.MaxRange != nil && n > *t.MaxRange {
				return mgmterror.New(mgmterror.TagInvalidValue, path,
					fmt.Sprintf("value %d above maximum %d", n, *t.MaxRange))
			}
		}
		return nil
	}
}

func checkDecimal64(value string, fractionDigits int) error {
	parts := strings.SplitN(value, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("decimal64 value %q has no fractional part", value)
	}
	if len(parts[1]) > fractionDigits {
		return fmt.Errorf("decimal64 value %q exceeds fraction-digits %d", value, fractionDigits)
	}
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return fmt.Errorf("decimal64 value %q is not numeric", value)
	}
	return nil
}
