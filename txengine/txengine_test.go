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

package txengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confcore/confcore/plugin"
	"github.com/confcore/confcore/store"
	"github.com/confcore/confcore/tree"
	"github.com/confcore/confcore/txerr"
	"github.com/confcore/confcore/validate"
	"github.com/confcore/confcore/xpath"
	"github.com/confcore/confcore/yang"
)

func testSpec() *yang.StaticSpec {
	root := &yang.Statement{Name: "config", Kind: yang.KindContainer}
	mtu := &yang.Statement{Name: "mtu", Kind: yang.KindLeaf, Type: &yang.TypeSpec{Name: "uint32"}}
	root.AddChild(mtu)
	return yang.NewStaticSpec(root)
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	spec := testSpec()
	cfg := NewConfig(
		WithStore(s),
		WithSpec(spec),
		WithValidator(validate.New(spec, xpath.NewEvaluator())),
		WithBus(plugin.NewBus(plugin.NewRegistry())),
	)
	return NewEngine(cfg), s
}

func TestCommitEmptyCandidateSucceeds(t *testing.T) {
	e, _ := newTestEngine(t)
	txid, res := e.Commit(1)
	require.True(t, res.IsOk())
	require.NotEmpty(t, txid)
	require.Equal(t, StateIdle, e.State())
}

func TestCommitPersistsCandidateIntoRunning(t *testing.T) {
	e, s := newTestEngine(t)

	candidate := tree.NewElement("config", "", nil)
	mtu := tree.NewElement("mtu", "", nil)
	mtu.SetBodyValue("1500")
	candidate.AddChild(mtu)
	require.NoError(t, s.Save("candidate", candidate, nil))

	_, res := e.Commit(1)
	require.True(t, res.IsOk())

	running, _, err := s.Load("running")
	require.NoError(t, err)
	child, ok := running.Child("mtu")
	require.True(t, ok)
	val, _ := child.BodyValue()
	require.Equal(t, "1500", val)
}

func TestCommitLockDenied(t *testing.T) {
	e, s := newTestEngine(t)
	require.NoError(t, s.Lock("running", 99))

	_, res := e.Commit(1)
	require.Equal(t, txerr.TransactionError, res.Kind)
	require.Equal(t, "in-use", res.Reason)
}

func TestCommitPluginAbortLeavesRunningUntouched(t *testing.T) {
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	spec := testSpec()

	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(&plugin.Descriptor{
		Name:     "reject-everything",
		Validate: func(*plugin.Context) txerr.Result { return txerr.Transaction("policy violation") },
	}))
	cfg := NewConfig(
		WithStore(s),
		WithSpec(spec),
		WithValidator(validate.New(spec, xpath.NewEvaluator())),
		WithBus(plugin.NewBus(reg)),
	)
	e := NewEngine(cfg)

	before, _, _ := s.Load("running")
	_, res := e.Commit(1)
	require.False(t, res.IsOk())

	after, _, _ := s.Load("running")
	require.Equal(t, len(before.Children), len(after.Children))
}

func TestEndHookObservesRunningAfterInstall(t *testing.T) {
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	spec := testSpec()

	var sawMtu string
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(&plugin.Descriptor{
		Name: "syncer",
		End: func(*plugin.Context) txerr.Result {
			running, _, err := s.Load("running")
			require.NoError(t, err)
			child, ok := running.Child("mtu")
			require.True(t, ok)
			sawMtu, _ = child.BodyValue()
			return txerr.OkResult()
		},
	}))
	cfg := NewConfig(
		WithStore(s),
		WithSpec(spec),
		WithValidator(validate.New(spec, xpath.NewEvaluator())),
		WithBus(plugin.NewBus(reg)),
	)
	e := NewEngine(cfg)

	candidate := tree.NewElement("config", "", nil)
	mtu := tree.NewElement("mtu", "", nil)
	mtu.SetBodyValue("9000")
	candidate.AddChild(mtu)
	require.NoError(t, s.Save("candidate", candidate, nil))

	_, res := e.Commit(1)
	require.True(t, res.IsOk())
	require.Equal(t, "9000", sawMtu, "end must see running already updated with the committed target, not the stale pre-commit tree")
}

func TestDiscardResetsCandidateToRunning(t *testing.T) {
	e, s := newTestEngine(t)

	running := tree.NewElement("config", "", nil)
	running.AddChild(tree.NewElement("mtu", "", nil))
	require.NoError(t, s.Save("running", running, nil))

	candidate := tree.NewElement("config", "", nil)
	require.NoError(t, s.Save("candidate", candidate, nil))
	require.True(t, s.IsDirty("candidate"))

	require.NoError(t, e.Discard())
	loaded, _, err := s.Load("candidate")
	require.NoError(t, err)
	_, ok := loaded.Child("mtu")
	require.True(t, ok)
	require.False(t, s.IsDirty("candidate"))
}
