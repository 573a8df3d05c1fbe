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

// Package plugin implements the Plugin Transaction Bus, component C of
// spec.md §4.C: an ordered registry of commit-lifecycle plugins and a
// Bus that drives them through the six-phase sequence (begin, validate,
// complete, commit, commit_done, end) plus the best-effort abort branch.
//
// The dispatch shape is the AOP aspect chain from the teacher's
// types/aspect.go (AspectList.GetChainAspects: sort by Order, fan out to
// every registered instance) adapted from one-shot message aspects to a
// stateful, multi-phase transaction lifecycle.
package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/confcore/confcore/tree"
	"github.com/confcore/confcore/txerr"
	"github.com/confcore/confcore/yang"
)

// Context carries the per-transaction state visible to every plugin
// phase callback: the committing transaction's diff vectors plus a
// plugin-private fence pointer each plugin may set in Begin and expect
// back unchanged in later phases (spec.md §4.C: "a fencing token each
// plugin may use to detect a stale context").
type Context struct {
	TransactionID string
	Root          *tree.Node
	Added         []*tree.Node
	Deleted       []*tree.Node
	Changed       []*tree.Node

	mu     sync.Mutex
	fences map[string]any
}

func NewContext(id string, root *tree.Node, added, deleted, changed []*tree.Node) *Context {
	return &Context{
		TransactionID: id,
		Root:          root,
		Added:         added,
		Deleted:       deleted,
		Changed:       changed,
		fences:        map[string]any{},
	}
}

// SetFence stores a plugin-private token under its own name, fetched
// back via Fence in a later phase. A plugin whose fence is missing (the
// bus never reached Begin for it, e.g. it registered mid-transaction)
// must treat the context as unknown to it.
func (c *Context) SetFence(plugin string, token any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fences[plugin] = token
}

func (c *Context) Fence(plugin string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.fences[plugin]
	return t, ok
}

// Descriptor is a named plugin's set of phase callbacks. Any callback
// left nil is skipped by the bus — spec.md §4.C: "a plugin implements
// only the phases relevant to it."
type Descriptor struct {
	Name string

	Begin      func(*Context) txerr.Result
	Validate   func(*Context) txerr.Result
	Complete   func(*Context) txerr.Result
	Commit     func(*Context) txerr.Result
	CommitDone func(*Context) txerr.Result
	End        func(*Context) txerr.Result
	Abort      func(*Context) txerr.Result

	// Reset clears any plugin-held state tied to a discarded candidate
	// (spec.md §4.C "reset" hook, invoked outside the commit sequence).
	Reset func() error

	// DatastoreUpgrade and ModuleUpgrade back the startup/changelog
	// upgrade hooks (spec.md §4.E): a plugin may rewrite its own subtree
	// during startup replay before the generic changelog runs, or run
	// module-specific logic the declarative changelog can't express.
	DatastoreUpgrade func(root *tree.Node, diff yang.ModstateDiff) error
	ModuleUpgrade    func(root *tree.Node, diff yang.ModstateDiff) error

	// Order controls dispatch sequence, ascending; ties broken by
	// registration order (teacher's Aspect.Order pattern).
	Order int
}

// Registry holds an ordered set of plugin descriptors.
type Registry struct {
	mu      sync.RWMutex
	plugins []*Descriptor
	byName  map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]*Descriptor{}}
}

func (r *Registry) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.Name]; exists {
		return fmt.Errorf("plugin already registered: %s", d.Name)
	}
	r.byName[d.Name] = d
	r.plugins = append(r.plugins, d)
	sort.SliceStable(r.plugins, func(i, j int) bool {
		return r.plugins[i].Order < r.plugins[j].Order
	})
	return nil
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; !exists {
		return fmt.Errorf("plugin not registered: %s", name)
	}
	delete(r.byName, name)
	for i, d := range r.plugins {
		if d.Name == name {
			r.plugins = append(r.plugins[:i], r.plugins[i+1:]...)
			break
		}
	}
	return nil
}

// Ordered returns a snapshot of the registered plugins in dispatch
// order.
func (r *Registry) Ordered() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Bus drives the registry through the six-phase commit lifecycle
// spec.md §4.C names: begin, validate, complete, commit, commit_done,
// end, and the abort branch taken on failure at any point before
// commit_done.
type Bus struct {
	Registry *Registry
}

func NewBus(r *Registry) *Bus {
	return &Bus{Registry: r}
}

// Run drives one commit attempt through begin/validate/complete/commit/
// commit_done, aborting every plugin whose Begin callback was invoked if
// any phase before commit_done fails. applied reports whether commit succeeded
// for every plugin (and so the caller must copy the target tree onto
// running and, once that's done, call End) or whether the transaction
// was aborted before ever reaching that point.
//
// Once commit_done has started, spec.md §9 treats failures there as
// already-applied: the bus keeps running commit_done for every
// remaining plugin rather than aborting, and reports the failure back
// to the caller for operator remediation instead of rolling back. End
// is deliberately not run here — spec.md §4.D runs end only after the
// target tree has been copied onto running, so the caller invokes End
// itself once that copy is complete.
func (b *Bus) Run(ctx *Context) (applied bool, res txerr.Result) {
	plugins := b.Registry.Ordered()
	began := make([]*Descriptor, 0, len(plugins))

	phases := []struct {
		name string
		fn   func(*Descriptor) func(*Context) txerr.Result
	}{
		{"begin", func(d *Descriptor) func(*Context) txerr.Result { return d.Begin }},
		{"validate", func(d *Descriptor) func(*Context) txerr.Result { return d.Validate }},
		{"complete", func(d *Descriptor) func(*Context) txerr.Result { return d.Complete }},
		{"commit", func(d *Descriptor) func(*Context) txerr.Result { return d.Commit }},
	}

	for _, phase := range phases {
		for _, d := range plugins {
			cb := phase.fn(d)
			if cb == nil {
				continue
			}
			if phase.name == "begin" {
				began = append(began, d)
			}
			if res := cb(ctx); !res.IsOk() {
				b.abort(began, ctx)
				return false, res
			}
		}
	}

	// commit_done always runs to completion once commit succeeded for
	// every plugin: the configuration is already applied, so the bus
	// reports the failure rather than attempting a rollback it can no
	// longer guarantee is safe.
	var postCommitFailure txerr.Result
	for _, d := range plugins {
		if d.CommitDone == nil {
			continue
		}
		if res := d.CommitDone(ctx); !res.IsOk() && postCommitFailure.Kind == txerr.Ok {
			postCommitFailure = res
		}
	}

	if postCommitFailure.Kind != txerr.Ok {
		return true, postCommitFailure
	}
	return true, txerr.OkResult()
}

// End runs every registered plugin's End hook, in dispatch order,
// best-effort: one plugin's failure never stops the rest from running.
// The caller invokes this only after the target tree has been copied
// onto running, so a plugin's End observes the datastore it just
// helped commit rather than the stale pre-commit one (spec.md §4.D).
func (b *Bus) End(ctx *Context) txerr.Result {
	var failure txerr.Result
	for _, d := range b.Registry.Ordered() {
		if d.End == nil {
			continue
		}
		if res := d.End(ctx); !res.IsOk() && failure.Kind == txerr.Ok {
			failure = res
		}
	}
	if failure.Kind != txerr.Ok {
		return failure
	}
	return txerr.OkResult()
}

// abort invokes Abort, in reverse registration order, for every plugin
// whose Begin callback was invoked; a plugin without a Begin callback is
// not aborted. Abort is best-effort: one plugin's failure never
// stops the rest from running (spec.md §4.C).
func (b *Bus) abort(began []*Descriptor, ctx *Context) {
	for i := len(began) - 1; i >= 0; i-- {
		d := began[i]
		if d.Abort == nil {
			continue
		}
		_ = d.Abort(ctx)
	}
}

// RunReset invokes every registered plugin's Reset hook, used when a
// candidate is discarded rather than committed.
func (b *Bus) RunReset() error {
	var first error
	for _, d := range b.Registry.Ordered() {
		if d.Reset == nil {
			continue
		}
		if err := d.Reset(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RunDatastoreUpgrade and RunModuleUpgrade invoke the corresponding
// upgrade hook on every plugin in dispatch order, used by the startup
// package during config replay (spec.md §4.E).
func (b *Bus) RunDatastoreUpgrade(root *tree.Node, diff yang.ModstateDiff) error {
	for _, d := range b.Registry.Ordered() {
		if d.DatastoreUpgrade == nil {
			continue
		}
		if err := d.DatastoreUpgrade(root, diff); err != nil {
			return fmt.Errorf("plugin %s datastore upgrade: %w", d.Name, err)
		}
	}
	return nil
}

func (b *Bus) RunModuleUpgrade(root *tree.Node, diff yang.ModstateDiff) error {
	for _, d := range b.Registry.Ordered() {
		if d.ModuleUpgrade == nil {
			continue
		}
		if err := d.ModuleUpgrade(root, diff); err != nil {
			return fmt.Errorf("plugin %s module upgrade: %w", d.Name, err)
		}
	}
	return nil
}
