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

// Package store is a concrete implementation of the out-of-scope
// DatastoreStore capability named in spec.md §1 ("the datastore
// persistence layer (consumed via DatastoreStore: load, save, copy,
// lock, existence)"). It persists each datastore as one file per
// spec.md §6 ("candidate, running, startup, failsafe, tmp — one file
// each ... each carrying an embedded module-state record").
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fatih/structs"

	"github.com/confcore/confcore/tree"
	"github.com/confcore/confcore/yang"
)

// wireNode is the JSON-serializable shadow of tree.Node. Spec bindings
// are not persisted and Store.Load returns an unbound tree; txengine
// re-binds it against the active schema after every load, the way a
// real NETCONF datastore re-parses against the currently loaded schema
// on every read.
type wireNode struct {
	Kind      tree.Kind  `json:"kind"`
	Name      string     `json:"name,omitempty"`
	Namespace string     `json:"namespace,omitempty"`
	Body      string     `json:"body,omitempty"`
	Children  []wireNode `json:"children,omitempty"`
}

func toWire(n *tree.Node) wireNode {
	w := wireNode{Kind: n.Kind, Name: n.Name, Namespace: n.Namespace, Body: n.Body}
	for _, c := range n.Children {
		w.Children = append(w.Children, toWire(c))
	}
	return w
}

func fromWire(w wireNode) *tree.Node {
	n := &tree.Node{Kind: w.Kind, Name: w.Name, Namespace: w.Namespace, Body: w.Body}
	for _, c := range w.Children {
		n.AddChild(fromWire(c))
	}
	return n
}

type fileRecord struct {
	Root        wireNode         `json:"root"`
	ModuleState yang.ModuleState `json:"moduleState,omitempty"`
}

// header is the small introspection record written alongside each
// datastore file (<name>.meta.json) via structs.Map, giving operators a
// human-diffable summary without decoding the full tree.
type header struct {
	Name        string `structs:"name"`
	ModuleCount int    `structs:"moduleCount"`
	Dirty       bool   `structs:"dirty"`
}

// Store is a directory of file-backed datastores, one JSON file per
// name, matching spec.md §6's "persisted state layout".
type Store struct {
	dir string

	mu    sync.Mutex
	lock  map[string]uint32 // datastore name -> client id holding the lock, 0 = unlocked
	dirty map[string]bool
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create datastore dir: %w", err)
	}
	return &Store{dir: dir, lock: map[string]uint32{}, dirty: map[string]bool{}}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Exists reports whether a datastore file has ever been saved under
// this name.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Load reads a datastore's tree and embedded module-state. A missing
// file loads as an empty element named "config" with no module state —
// spec.md §8's "empty candidate commits succeed" boundary case.
func (s *Store) Load(name string) (*tree.Node, yang.ModuleState, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return tree.NewElement("config", "", nil), yang.ModuleState{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load datastore %q: %w", name, err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil, fmt.Errorf("decode datastore %q: %w", name, err)
	}
	return fromWire(rec.Root), rec.ModuleState, nil
}

// Save atomically (write-then-rename, per spec.md §9) persists root and
// its module-state under name, and refreshes the companion metadata
// header.
func (s *Store) Save(name string, root *tree.Node, ms yang.ModuleState) error {
	rec := fileRecord{Root: toWire(root), ModuleState: ms}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode datastore %q: %w", name, err)
	}
	if err := WriteFileAtomic(s.path(name), data); err != nil {
		return err
	}

	s.mu.Lock()
	s.dirty[name] = true
	s.mu.Unlock()

	h := header{Name: name, ModuleCount: len(ms), Dirty: true}
	metaData, _ := json.MarshalIndent(structs.Map(h), "", "  ")
	_ = WriteFileAtomic(filepath.Join(s.dir, name+".meta.json"), metaData)
	return nil
}

// WriteFileAtomic avoids partial writes being observed by a concurrent
// reader or a crash mid-write (spec.md §9): write-then-rename, reused
// by package confirm to persist its own small state file the same way.
func WriteFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// Copy duplicates src onto dst (used by copy-config, discard-changes and
// confirmed-commit rollback snapshots).
func (s *Store) Copy(src, dst string) error {
	root, ms, err := s.Load(src)
	if err != nil {
		return err
	}
	return s.Save(dst, tree.Clone(root), ms)
}

// Delete removes a datastore file (rollback snapshot cleanup on
// confirm).
func (s *Store) Delete(name string) error {
	_ = os.Remove(filepath.Join(s.dir, name+".meta.json"))
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ResetDirty clears the dirty bit after a successful commit (spec.md
// §4.D: "reset candidate dirty bit").
func (s *Store) ResetDirty(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[name] = false
}

func (s *Store) IsDirty(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty[name]
}

// Lock assigns the advisory per-datastore lock to client, failing with
// ErrLocked if another client already holds it (spec.md §5).
func (s *Store) Lock(name string, client uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.lock[name]; ok && holder != 0 && holder != client {
		return ErrLocked
	}
	s.lock[name] = client
	return nil
}

func (s *Store) Unlock(name string, client uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.lock[name]; ok && holder != 0 && holder != client {
		return ErrLocked
	}
	s.lock[name] = 0
	return nil
}

// LockHolder returns the client id holding name's lock, 0 if unlocked.
func (s *Store) LockHolder(name string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock[name]
}

var ErrLocked = fmt.Errorf("lock-denied")
