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

package validate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confcore/confcore/mgmterror"
	"github.com/confcore/confcore/tree"
	"github.com/confcore/confcore/xpath"
	"github.com/confcore/confcore/yang"
)

func rangeSpec(min, max int64) *yang.TypeSpec {
	return &yang.TypeSpec{Name: "uint8", MinRange: &min, MaxRange: &max}
}

func buildSchema() *yang.StaticSpec {
	root := &yang.Statement{Name: "", Kind: yang.KindContainer}
	a := &yang.Statement{Name: "A", Kind: yang.KindContainer}
	root.AddChild(a)

	b := &yang.Statement{Name: "b", Kind: yang.KindLeaf, Type: rangeSpec(0, 255), Mandatory: true}
	a.AddChild(b)

	withDefault := &yang.Statement{Name: "withDefault", Kind: yang.KindLeaf, Type: rangeSpec(0, 255), Mandatory: true, HasDefault: true, Default: "7"}
	a.AddChild(withDefault)

	entry := &yang.Statement{Name: "srv", Kind: yang.KindList, Keys: []string{"name"}}
	entry.AddChild(&yang.Statement{Name: "name", Kind: yang.KindLeaf, Type: &yang.TypeSpec{Name: "string"}})
	entry.MinElements = 2
	a.AddChild(entry)

	ref := &yang.Statement{Name: "ref", Kind: yang.KindLeaf, Type: &yang.TypeSpec{Name: "leafref", LeafrefPath: "../srv/name"}}
	a.AddChild(ref)

	return yang.NewStaticSpec(root)
}

func addServer(a *tree.Node, name string) {
	srv := tree.NewElement("srv", "ns", nil)
	n := tree.NewElement("name", "ns", nil)
	n.SetBodyValue(name)
	srv.AddChild(n)
	a.AddChild(srv)
}

func bind(n *tree.Node, spec *yang.Statement) {
	n.Spec = spec
	for _, c := range n.ElementChildren() {
		if childSpec, ok := spec.Child(c.Name); ok {
			bind(c, childSpec)
		}
	}
}

func TestValidateAllTop_InvalidValue(t *testing.T) {
	spec := buildSchema()
	root := tree.NewElement("", "", spec.Root())
	a := tree.NewElement("A", "ns", nil)
	root.AddChild(a)
	b := tree.NewElement("b", "ns", nil)
	b.SetBodyValue("999")
	a.AddChild(b)
	bind(root, spec.Root())

	v := New(spec, xpath.NewEvaluator())
	v.FillDefaults(root)
	errs := v.ValidateAllTop(root)
	require.True(t, errs.HasErrors())
}

func TestDefaultFillLetsMandatoryLeafPass(t *testing.T) {
	spec := buildSchema()
	root := tree.NewElement("", "", spec.Root())
	a := tree.NewElement("A", "ns", nil)
	root.AddChild(a)
	b := tree.NewElement("b", "ns", nil)
	b.SetBodyValue("10")
	a.AddChild(b)
	bind(root, spec.Root())

	v := New(spec, xpath.NewEvaluator())
	v.FillDefaults(root)

	withDefault, ok := a.Child("withDefault")
	require.True(t, ok, "default fill-in should create the missing leaf")
	val, _ := withDefault.BodyValue()
	require.Equal(t, "7", val)
	require.False(t, v.ValidateAllTop(root).HasErrors(), "the defaulted mandatory leaf must pass validation")
}

func TestListMinElementsFails(t *testing.T) {
	spec := buildSchema()
	root := tree.NewElement("", "", spec.Root())
	a := tree.NewElement("A", "ns", nil)
	root.AddChild(a)
	b := tree.NewElement("b", "ns", nil)
	b.SetBodyValue("10")
	a.AddChild(b)
	srv := tree.NewElement("srv", "ns", nil)
	name := tree.NewElement("name", "ns", nil)
	name.SetBodyValue("only-one")
	srv.AddChild(name)
	a.AddChild(srv)
	bind(root, spec.Root())

	v := New(spec, xpath.NewEvaluator())
	v.FillDefaults(root)
	errs := v.ValidateAllTop(root)
	require.True(t, errs.HasErrors())
	require.Equal(t, mgmterror.TagDataMissing, errs[0].Tag)
}

func TestLeafrefResolvesAgainstExistingInstance(t *testing.T) {
	spec := buildSchema()
	root := tree.NewElement("", "", spec.Root())
	a := tree.NewElement("A", "ns", nil)
	root.AddChild(a)
	b := tree.NewElement("b", "ns", nil)
	b.SetBodyValue("10")
	a.AddChild(b)
	addServer(a, "web-1")
	addServer(a, "web-2")
	ref := tree.NewElement("ref", "ns", nil)
	ref.SetBodyValue("web-2")
	a.AddChild(ref)
	bind(root, spec.Root())

	v := New(spec, xpath.NewEvaluator())
	v.FillDefaults(root)
	errs := v.ValidateAllTop(root)
	require.False(t, errs.HasErrors())
}

func TestLeafrefDanglingReferenceFails(t *testing.T) {
	spec := buildSchema()
	root := tree.NewElement("", "", spec.Root())
	a := tree.NewElement("A", "ns", nil)
	root.AddChild(a)
	b := tree.NewElement("b", "ns", nil)
	b.SetBodyValue("10")
	a.AddChild(b)
	addServer(a, "web-1")
	addServer(a, "web-2")
	ref := tree.NewElement("ref", "ns", nil)
	ref.SetBodyValue("web-9")
	a.AddChild(ref)
	bind(root, spec.Root())

	v := New(spec, xpath.NewEvaluator())
	v.FillDefaults(root)
	errs := v.ValidateAllTop(root)
	require.True(t, errs.HasErrors())

	var found bool
	for _, e := range errs {
		if e.Tag == mgmterror.TagDataMissing && e.Path == "/A/ref" {
			found = true
		}
	}
	require.True(t, found, "a leafref pointing at a nonexistent instance must be rejected")
}
