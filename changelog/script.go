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
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/confcore/confcore/tree"
)

// ScriptRunner executes a changelog step's "script" op body, recovered
// from original_source's more permissive upgrade-callback model
// (SPEC_FULL.md §4.E.1). It pools compiled goja programs the way the
// teacher's GojaJsEngine caches `jsUdfProgramCache` (utils/js/js_engine.go),
// adapted here to run one expression body per call against a fresh VM
// rather than a long-lived VM with preloaded functions — changelog
// scripts are short, one-shot value transforms, not rule-chain
// callbacks invoked repeatedly per message.
type ScriptRunner struct {
	mu    sync.Mutex
	cache map[string]*goja.Program
}

func NewScriptRunner() *ScriptRunner {
	return &ScriptRunner{cache: map[string]*goja.Program{}}
}

func (r *ScriptRunner) compile(source string) (*goja.Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[source]; ok {
		return p, nil
	}
	p, err := goja.Compile("", source, false)
	if err != nil {
		return nil, err
	}
	r.cache[source] = p
	return p, nil
}

// Run evaluates source with the matched node's body bound to the global
// `value` and writes the script's `result` global back as the node's
// new body value. A script that never sets `result` leaves the node
// untouched.
func (r *ScriptRunner) Run(source string, n *tree.Node) error {
	program, err := r.compile(source)
	if err != nil {
		return fmt.Errorf("compile changelog script: %w", err)
	}

	vm := goja.New()
	body, _ := n.BodyValue()
	if err := vm.Set("value", body); err != nil {
		return err
	}
	if _, err := vm.RunProgram(program); err != nil {
		return fmt.Errorf("run changelog script: %w", err)
	}
	result := vm.Get("result")
	if result == nil || goja.IsUndefined(result) {
		return nil
	}
	n.SetBodyValue(result.String())
	return nil
}
