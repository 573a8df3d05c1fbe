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

// Package xpath is the out-of-scope "XML/JSON parser, serializer, and
// XPath evaluator (consumed as Tree operations)" capability named in
// spec.md §1, stood up concretely with expr-lang the way the teacher's
// example/expr.go compiles and runs boolean/map expressions against an
// environment map. It backs the validator's must/when checks (spec.md
// §4.B) and the changelog engine's where/when guards (spec.md §4.E.1).
//
// confcore does not have a real XPath grammar available in the pack, so
// `must`/`when`/`where` expressions are written in expr-lang syntax
// instead of XPath proper — the evaluator is kept stateless and
// side-effect free (spec.md §9 design note), which is the property that
// actually matters for the engine, not the concrete expression syntax.
package xpath

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/confcore/confcore/tree"
)

// Evaluator compiles and caches expr-lang programs, mirroring the
// teacher's GojaJsEngine program cache (utils/js/js_engine.go).
type Evaluator struct {
	mu    sync.Mutex
	bools map[string]*vm.Program
	strs  map[string]*vm.Program
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		bools: map[string]*vm.Program{},
		strs:  map[string]*vm.Program{},
	}
}

func (e *Evaluator) compile(cache map[string]*vm.Program, source string, opts ...expr.Option) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := cache[source]; ok {
		return p, nil
	}
	p, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, err
	}
	cache[source] = p
	return p, nil
}

// EvalBool evaluates a must/when/where-guard expression and requires a
// boolean result, per spec.md §4.B ("must and when XPath expressions").
func (e *Evaluator) EvalBool(source string, env map[string]any) (bool, error) {
	program, err := e.compile(e.bools, source, expr.AsBool(), expr.Env(env))
	if err != nil {
		return false, fmt.Errorf("compile %q: %w", source, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run %q: %w", source, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to bool", source)
	}
	return b, nil
}

// EvalString evaluates an expression expected to yield a string, used by
// the changelog engine's `tag` (rename) and `dst` (move) step fields.
func (e *Evaluator) EvalString(source string, env map[string]any) (string, error) {
	program, err := e.compile(e.strs, source, expr.AsKind(reflect.String))
	if err != nil {
		return "", fmt.Errorf("compile %q: %w", source, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return "", fmt.Errorf("run %q: %w", source, err)
	}
	s, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("expression %q did not evaluate to string", source)
	}
	return s, nil
}

// NodeEnv flattens a tree.Node's element children into an expr-lang
// environment map, giving must/when expressions access to the node's
// child leaf values by name, as strings (e.g. `mtu != "0"`), plus a few
// well-known keys for self-inspection.
func NodeEnv(n *tree.Node) map[string]any {
	env := map[string]any{
		"_name":      n.Name,
		"_namespace": n.Namespace,
		"_added":     n.Flags.Has(tree.FlagAdd),
		"_deleted":   n.Flags.Has(tree.FlagDel),
		"_changed":   n.Flags.Has(tree.FlagChange),
	}
	if body, ok := n.BodyValue(); ok {
		env["_value"] = body
	}
	for _, c := range n.ElementChildren() {
		env[c.Name] = childValue(c)
	}
	return env
}

func childValue(n *tree.Node) any {
	if body, ok := n.BodyValue(); ok && len(n.ElementChildren()) == 0 {
		return body
	}
	nested := map[string]any{}
	for _, c := range n.ElementChildren() {
		nested[c.Name] = childValue(c)
	}
	return nested
}
