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

package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confcore/confcore/tree"
	"github.com/confcore/confcore/yang"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	root := tree.NewElement("config", "", nil)
	a := tree.NewElement("A", "ns", nil)
	a.SetBodyValue("") // exercise a body-bearing branch alongside plain children
	root.AddChild(a)

	require.NoError(t, s.Save("candidate", root, yang.ModuleState{"foo": "2024-01-01"}))

	loaded, ms, err := s.Load("candidate")
	require.NoError(t, err)
	require.Equal(t, "2024-01-01", ms["foo"])
	child, ok := loaded.Child("A")
	require.True(t, ok)
	require.Equal(t, "ns", child.Namespace)
}

func TestLoadMissingIsEmptyConfig(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	root, ms, err := s.Load("running")
	require.NoError(t, err)
	require.Equal(t, "config", root.Name)
	require.Empty(t, ms)
	require.False(t, s.Exists("running"))
}

func TestCopy(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	root := tree.NewElement("config", "", nil)
	root.AddChild(tree.NewElement("A", "ns", nil))
	require.NoError(t, s.Save("running", root, nil))

	require.NoError(t, s.Copy("running", "rollback_1"))
	loaded, _, err := s.Load("rollback_1")
	require.NoError(t, err)
	_, ok := loaded.Child("A")
	require.True(t, ok)
}

func TestLockExclusion(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Lock("running", 1))
	require.ErrorIs(t, s.Lock("running", 2), ErrLocked)
	require.NoError(t, s.Lock("running", 1)) // re-entrant for the same client
	require.ErrorIs(t, s.Unlock("running", 2), ErrLocked)
	require.NoError(t, s.Unlock("running", 1))
	require.Equal(t, uint32(0), s.LockHolder("running"))
}

func TestDirtyBit(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.False(t, s.IsDirty("candidate"))
	require.NoError(t, s.Save("candidate", tree.NewElement("config", "", nil), nil))
	require.True(t, s.IsDirty("candidate"))
	s.ResetDirty("candidate")
	require.False(t, s.IsDirty("candidate"))
}
