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

// Package yang is the out-of-scope YangSpec capability named in spec.md
// §1: "the YANG parser and type system (consumed via a YangSpec
// capability: type/constraint lookup, identity resolution, feature
// queries)". confcore does not implement a YANG compiler; this package
// is a minimal, hand-built schema model good enough to drive validate,
// tree and changelog against a concrete YangSpec without pulling in a
// full parser. Spec is the capability interface (used by package
// startup); txengine and validate take a *StaticSpec directly, so the
// schema the engine validates against is always a StaticSpec.
package yang

// Kind is the statement kind a Statement represents.
type Kind int

const (
	KindContainer Kind = iota
	KindList
	KindLeaf
	KindLeafList
)

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindList:
		return "list"
	case KindLeaf:
		return "leaf"
	case KindLeafList:
		return "leaf-list"
	default:
		return "unknown"
	}
}

// TypeSpec describes the constraints spec.md §4.B requires the validator
// to enforce for a leaf's type: range, length, pattern, enumeration,
// identityref base, union alternatives, decimal64 fraction-digits, bits.
type TypeSpec struct {
	Name           string // uint8, int32, string, enumeration, identityref, union, decimal64, bits, leafref, boolean, ...
	MinRange       *int64
	MaxRange       *int64
	MinLength      *int
	MaxLength      *int
	Pattern        string
	Enums          []string
	Bits           []string
	IdentityBase   string
	Union          []*TypeSpec
	FractionDigits int
	LeafrefPath    string // absolute or relative path expression, resolved by validate against the data tree
}

// Statement is one node of the YANG schema tree.
type Statement struct {
	Name          string
	Namespace     string
	Kind          Kind
	Module        string
	Type          *TypeSpec
	Mandatory     bool
	Default       string
	HasDefault    bool
	MinElements   int
	MaxElements   int // 0 means unbounded
	Keys          []string
	Unique        [][]string
	Must          []string
	When          string
	OrderedByUser bool
	Children      map[string]*Statement
	ChildOrder    []string
}

// AddChild registers a child statement, preserving schema definition
// order in ChildOrder (walked by validate's default fill-in).
func (s *Statement) AddChild(child *Statement) {
	if s.Children == nil {
		s.Children = map[string]*Statement{}
	}
	if _, exists := s.Children[child.Name]; !exists {
		s.ChildOrder = append(s.ChildOrder, child.Name)
	}
	s.Children[child.Name] = child
}

func (s *Statement) Child(name string) (*Statement, bool) {
	if s == nil || s.Children == nil {
		return nil, false
	}
	c, ok := s.Children[name]
	return c, ok
}

// ModuleState is the embedded module-state record spec.md §3 describes:
// module name -> revision the content was authored against.
type ModuleState map[string]string

// ModstateDiff is the per-module comparison driving startup upgrade
// (spec.md §3, §4.E).
type ModstateStatus int

const (
	StatusNoMatch ModstateStatus = iota
	StatusOther
	StatusNone
)

type ModstateEntry struct {
	Module         string
	AuthorRevision string
	CurrentRevision string
	Status         ModstateStatus
}

type ModstateDiff []ModstateEntry

// Diff compares an authored ModuleState against the schema's current
// revisions and classifies each module.
func Diff(authored ModuleState, current map[string]string) ModstateDiff {
	var out ModstateDiff
	for module, authorRev := range authored {
		currentRev, known := current[module]
		status := StatusNone
		if known {
			if currentRev == authorRev {
				status = StatusNone
			} else {
				status = StatusNoMatch
			}
		} else {
			status = StatusOther
		}
		out = append(out, ModstateEntry{
			Module:          module,
			AuthorRevision:  authorRev,
			CurrentRevision: currentRev,
			Status:          status,
		})
	}
	return out
}

// Spec is the YangSpec capability: schema/type/constraint lookup,
// identity resolution and feature queries, named but left external by
// spec.md §1.
type Spec interface {
	// Resolve walks path (a sequence of element names from the document
	// root) and returns the bound Statement, or false if unbound.
	Resolve(path []string) (*Statement, bool)
	// Root returns the top-level (module) statement.
	Root() *Statement
	// IdentityDerivesFrom reports whether identity is base or one of
	// base's transitively derived identities.
	IdentityDerivesFrom(identity, base string) bool
	// FeatureEnabled reports whether the named if-feature is active.
	FeatureEnabled(name string) bool
	// ModuleRevisions returns the current schema revision for every
	// module the spec knows about.
	ModuleRevisions() map[string]string
}

// StaticSpec is an in-memory Spec built by the embedder, sufficient for
// tests and small deployments that do not need a full YANG compiler.
type StaticSpec struct {
	root       *Statement
	identities map[string][]string // base -> direct derived identities
	features   map[string]bool
	revisions  map[string]string
}

func NewStaticSpec(root *Statement) *StaticSpec {
	return &StaticSpec{
		root:       root,
		identities: map[string][]string{},
		features:   map[string]bool{},
		revisions:  map[string]string{},
	}
}

func (s *StaticSpec) Root() *Statement { return s.root }

func (s *StaticSpec) Resolve(path []string) (*Statement, bool) {
	cur := s.root
	for _, name := range path {
		next, ok := cur.Child(name)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// AddIdentity registers that `derived` has base identity `base`.
func (s *StaticSpec) AddIdentity(base, derived string) {
	s.identities[base] = append(s.identities[base], derived)
}

func (s *StaticSpec) IdentityDerivesFrom(identity, base string) bool {
	if identity == base {
		return true
	}
	for _, d := range s.identities[base] {
		if s.IdentityDerivesFrom(identity, d) {
			return true
		}
	}
	return false
}

func (s *StaticSpec) SetFeature(name string, enabled bool) { s.features[name] = enabled }

func (s *StaticSpec) FeatureEnabled(name string) bool {
	enabled, known := s.features[name]
	return known && enabled
}

func (s *StaticSpec) SetModuleRevision(module, revision string) { s.revisions[module] = revision }

func (s *StaticSpec) ModuleRevisions() map[string]string {
	out := make(map[string]string, len(s.revisions))
	for k, v := range s.revisions {
		out[k] = v
	}
	return out
}

// PathString renders a schema path for error-path reporting (spec.md
// §4.B error-path field).
func PathString(path []string) string {
	out := ""
	for _, p := range path {
		out += "/" + p
	}
	if out == "" {
		return "/"
	}
	return out
}
