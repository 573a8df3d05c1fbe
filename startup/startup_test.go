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

package startup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confcore/confcore/plugin"
	"github.com/confcore/confcore/store"
	"github.com/confcore/confcore/tree"
	"github.com/confcore/confcore/txengine"
	"github.com/confcore/confcore/validate"
	"github.com/confcore/confcore/xpath"
	"github.com/confcore/confcore/yang"
)

func mustSpec() *yang.StaticSpec {
	root := &yang.Statement{Name: "config", Kind: yang.KindContainer}
	mtu := &yang.Statement{
		Name: "mtu", Kind: yang.KindLeaf,
		Type: &yang.TypeSpec{Name: "uint32"},
		Must: []string{`_value != "0"`},
	}
	root.AddChild(mtu)
	return yang.NewStaticSpec(root)
}

func newManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	spec := mustSpec()
	cfg := txengine.NewConfig(
		txengine.WithStore(s),
		txengine.WithSpec(spec),
		txengine.WithValidator(validate.New(spec, xpath.NewEvaluator())),
		txengine.WithBus(plugin.NewBus(plugin.NewRegistry())),
	)
	engine := txengine.NewEngine(cfg)
	m := New(engine, s, spec, plugin.NewBus(plugin.NewRegistry()), nil)
	return m, s
}

func TestReplayValidStartupCommitsToRunning(t *testing.T) {
	m, s := newManager(t)
	startup := tree.NewElement("config", "", nil)
	mtu := tree.NewElement("mtu", "", nil)
	mtu.SetBodyValue("1500")
	startup.AddChild(mtu)
	require.NoError(t, s.Save(m.Names.Startup, startup, nil))

	res := m.Replay()
	require.True(t, res.IsOk())

	running, _, err := s.Load(m.Names.Running)
	require.NoError(t, err)
	child, ok := running.Child("mtu")
	require.True(t, ok)
	val, _ := child.BodyValue()
	require.Equal(t, "1500", val)
}

func TestReplayFailsOverToFailsafe(t *testing.T) {
	m, s := newManager(t)

	invalid := tree.NewElement("config", "", nil)
	mtu := tree.NewElement("mtu", "", nil)
	mtu.SetBodyValue("0") // violates the must `_value != "0"`
	invalid.AddChild(mtu)
	require.NoError(t, s.Save(m.Names.Startup, invalid, nil))

	goodFailsafe := tree.NewElement("config", "", nil)
	fsMtu := tree.NewElement("mtu", "", nil)
	fsMtu.SetBodyValue("9000")
	goodFailsafe.AddChild(fsMtu)
	require.NoError(t, s.Save(m.Names.Failsafe, goodFailsafe, nil))

	res := m.Replay()
	require.True(t, res.IsOk(), "failsafe commit should have succeeded")

	running, _, err := s.Load(m.Names.Running)
	require.NoError(t, err)
	child, ok := running.Child("mtu")
	require.True(t, ok)
	val, _ := child.BodyValue()
	require.Equal(t, "9000", val)
}

func TestReplayRestoresRunningWhenFailsafeAlsoFails(t *testing.T) {
	m, s := newManager(t)

	invalid := tree.NewElement("config", "", nil)
	mtu := tree.NewElement("mtu", "", nil)
	mtu.SetBodyValue("0")
	invalid.AddChild(mtu)
	require.NoError(t, s.Save(m.Names.Startup, invalid, nil))

	priorRunning := tree.NewElement("config", "", nil)
	priorMtu := tree.NewElement("mtu", "", nil)
	priorMtu.SetBodyValue("42")
	priorRunning.AddChild(priorMtu)
	require.NoError(t, s.Save(m.Names.Running, priorRunning, nil))

	badFailsafe := tree.NewElement("config", "", nil)
	fsMtu := tree.NewElement("mtu", "", nil)
	fsMtu.SetBodyValue("0")
	badFailsafe.AddChild(fsMtu)
	require.NoError(t, s.Save(m.Names.Failsafe, badFailsafe, nil))

	res := m.Replay()
	require.False(t, res.IsOk())

	running, _, err := s.Load(m.Names.Running)
	require.NoError(t, err)
	child, ok := running.Child("mtu")
	require.True(t, ok)
	val, _ := child.BodyValue()
	require.Equal(t, "42", val, "running must be restored from tmp when failsafe also fails")
}
