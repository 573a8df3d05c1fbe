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

// Package startup implements the Startup & Upgrade sequence, component
// E of spec.md §4.E: load the startup datastore, run the generic and
// module-specific upgrade callbacks (including the declarative
// changelog engine, package changelog), bind and validate against the
// current schema, commit to running, and fall back to the failsafe
// datastore (spec.md §7) on failure.
package startup

import (
	"fmt"

	"github.com/confcore/confcore/changelog"
	"github.com/confcore/confcore/plugin"
	"github.com/confcore/confcore/store"
	"github.com/confcore/confcore/tree"
	"github.com/confcore/confcore/txengine"
	"github.com/confcore/confcore/txerr"
	"github.com/confcore/confcore/yang"
)

// Policy is the subset of spec.md §6's configuration options this
// package consumes.
type Policy struct {
	// CheckOld, when true, loads the startup datastore without YANG
	// binding first to detect module-state mismatch before upgrading
	// (spec.md §4.E step 1).
	CheckOld bool
}

// Names collects the datastore names the replay sequence touches,
// defaulting to spec.md §6's canonical names.
type Names struct {
	Startup  string
	Running  string
	Failsafe string
	Tmp      string
}

func DefaultNames() Names {
	return Names{Startup: "startup", Running: "running", Failsafe: "failsafe", Tmp: "tmp"}
}

// Manager drives one process's startup replay.
type Manager struct {
	Engine    *txengine.Engine
	Store     *store.Store
	Spec      yang.Spec
	Bus       *plugin.Bus
	Changelog *changelog.Engine
	Policy    Policy
	Names     Names
	Logger    txengine.Logger
}

func New(engine *txengine.Engine, s *store.Store, spec yang.Spec, bus *plugin.Bus, cl *changelog.Engine) *Manager {
	return &Manager{
		Engine: engine, Store: s, Spec: spec, Bus: bus, Changelog: cl,
		Names: DefaultNames(), Logger: txengine.DefaultLogger(),
	}
}

// Replay runs the full sequence spec.md §4.E lists and returns the
// result of whichever commit (startup or, on failure, failsafe) ended
// up installed as running.
func (m *Manager) Replay() txerr.Result {
	root, ms, err := m.Store.Load(m.Names.Startup)
	if err != nil {
		return txerr.FatalResult(fmt.Sprintf("load startup: %v", err))
	}

	var diff yang.ModstateDiff
	if m.Policy.CheckOld {
		diff = yang.Diff(ms, m.Spec.ModuleRevisions())
	}

	if m.Bus != nil {
		if err := m.Bus.RunDatastoreUpgrade(root, diff); err != nil {
			return txerr.FatalResult(fmt.Sprintf("datastore upgrade: %v", err))
		}
	}
	if m.Changelog != nil {
		if err := m.Changelog.Apply(root, diff); err != nil {
			return txerr.FatalResult(fmt.Sprintf("changelog upgrade: %v", err))
		}
	}
	if m.Bus != nil {
		if err := m.Bus.RunModuleUpgrade(root, diff); err != nil {
			return txerr.FatalResult(fmt.Sprintf("module upgrade: %v", err))
		}
	}

	// Persist the upgraded tree back under the startup name so
	// CommitStartup's own Store.Load(targetName) picks up the result of
	// every upgrade step run above (binding and default fill-in happen
	// inside validateCommon against whatever is loaded there; the tree
	// is not re-sorted).
	if err := m.Store.Save(m.Names.Startup, root, m.Spec.ModuleRevisions()); err != nil {
		return txerr.FatalResult(fmt.Sprintf("persist upgraded startup: %v", err))
	}

	_, res := m.Engine.CommitStartup(m.Names.Startup)
	if res.IsOk() {
		return res
	}

	m.Logger.Printf("startup: startup datastore failed to commit (%s), engaging failsafe", res.Error())
	return m.failsafe()
}

// failsafe implements spec.md §7's recovery: back up running to tmp,
// reset running, commit the failsafe datastore in its place. If that
// also fails, tmp is restored to running and the failure is reported as
// fatal — spec.md: "If it fails, the engine restores tmp to running and
// terminates with a fatal log entry."
func (m *Manager) failsafe() txerr.Result {
	if err := m.Store.Copy(m.Names.Running, m.Names.Tmp); err != nil {
		return txerr.FatalResult(fmt.Sprintf("failsafe: backup running to tmp: %v", err))
	}
	if err := m.Store.Save(m.Names.Running, tree.NewElement("config", "", nil), nil); err != nil {
		return txerr.FatalResult(fmt.Sprintf("failsafe: reset running: %v", err))
	}

	_, res := m.Engine.CommitStartup(m.Names.Failsafe)
	if res.IsOk() {
		m.Logger.Printf("startup: running on failsafe configuration")
		return res
	}

	if err := m.Store.Copy(m.Names.Tmp, m.Names.Running); err != nil {
		m.Logger.Printf("startup: FATAL: failsafe commit failed (%s) and tmp restore also failed: %v", res.Error(), err)
		return txerr.FatalResult("failsafe recovery failed and tmp restore failed")
	}
	m.Logger.Printf("startup: FATAL: failsafe commit failed (%s), restored prior running from tmp, terminating", res.Error())
	return txerr.FatalResult("failsafe recovery failed: " + res.Error())
}
