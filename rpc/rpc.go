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

// Package rpc exposes the NETCONF-equivalent operations spec.md §6
// names as plain Go methods on Server: edit-config, validate, commit
// (with the confirmed-commit fields), discard-changes, cancel-commit,
// copy-config, delete-config, lock and unlock. No transport is
// implemented (out of scope, per spec.md §1) — cmd/confcored is the
// only caller in this module, standing in for whatever NETCONF/RPC
// front-end a deployment wires in front of Server.
package rpc

import (
	"fmt"

	"github.com/confcore/confcore/confirm"
	"github.com/confcore/confcore/mgmterror"
	"github.com/confcore/confcore/store"
	"github.com/confcore/confcore/tree"
	"github.com/confcore/confcore/txengine"
	"github.com/confcore/confcore/txerr"
)

// Server wires the transaction engine, confirmed-commit manager and
// datastore store together behind the RPC surface spec.md §6 names.
// Confirm may be nil, disabling the confirmed-commit fields of Commit
// (plain commits still work) — the "confirmed-commit" feature flag
// spec.md §6 lists as a consumed configuration option.
type Server struct {
	Engine  *txengine.Engine
	Confirm *confirm.Manager
	Store   *store.Store
}

func New(engine *txengine.Engine, cm *confirm.Manager, s *store.Store) *Server {
	return &Server{Engine: engine, Confirm: cm, Store: s}
}

func resultToError(res txerr.Result) *mgmterror.Error {
	if res.IsOk() {
		return nil
	}
	switch res.Kind {
	case txerr.ValidationFail:
		if len(res.Errors) > 0 {
			return res.Errors[0]
		}
		return mgmterror.New(mgmterror.TagOperationFailed, "", "validation failed")
	case txerr.TransactionError:
		tag := mgmterror.TagOperationFailed
		if res.Reason == "in-use" {
			tag = mgmterror.TagInUse
		}
		return mgmterror.New(tag, "", res.Reason)
	default:
		return mgmterror.New(mgmterror.TagOperationFailed, "", res.Reason)
	}
}

// Validate runs the validate RPC (spec.md §6): validate_common without
// touching running.
func (s *Server) Validate() *mgmterror.Error {
	return resultToError(s.Engine.Validate())
}

// CommitRequest carries a commit RPC's parameters, including the
// optional confirmed-commit fields spec.md §4.F describes.
type CommitRequest struct {
	SessionID uint32
	ClientID  uint32

	Confirmed             bool
	ConfirmTimeoutSeconds *int
	Persist               string
	PersistID             string
}

// Commit runs the commit RPC. When req carries confirmed-commit fields
// and a Manager is configured, it reconciles against any active
// confirmed-commit window (spec.md §4.F) before and after the commit
// itself: an existing window may be confirmed or extended by this
// request, or req may start a brand new one.
func (s *Server) Commit(req CommitRequest) (txid string, mgmtErr *mgmterror.Error) {
	if req.Confirmed {
		if err := confirm.ValidateTimeout(req.ConfirmTimeoutSeconds); err != nil {
			return "", err
		}
	}

	creq := confirm.Request{
		Confirmed:      req.Confirmed,
		TimeoutSeconds: req.ConfirmTimeoutSeconds,
		Persist:        req.Persist,
		PersistID:      req.PersistID,
	}

	var matchedExisting bool
	if s.Confirm != nil {
		var err error
		matchedExisting, mgmtErr, err = s.Confirm.Reconcile(req.SessionID, creq)
		if mgmtErr != nil {
			return "", mgmtErr
		}
		if err != nil {
			return "", mgmterror.New(mgmterror.TagOperationFailed, "", err.Error())
		}
	}

	armNew := s.Confirm != nil && req.Confirmed && !matchedExisting
	var snapshot string
	if armNew {
		snapshot = confirm.SnapshotName(req.SessionID, req.Persist)
		if err := s.Engine.SnapshotRunning(snapshot); err != nil {
			return "", mgmterror.New(mgmterror.TagOperationFailed, "", fmt.Sprintf("snapshot running: %v", err))
		}
	}

	txid, res := s.Engine.Commit(req.ClientID)
	if mgmtErr = resultToError(res); mgmtErr != nil {
		return "", mgmtErr
	}

	if armNew {
		if mErr, err := s.Confirm.Begin(req.SessionID, creq, snapshot); mErr != nil {
			return txid, mErr
		} else if err != nil {
			return txid, mgmterror.New(mgmterror.TagOperationFailed, "", err.Error())
		}
	}
	return txid, nil
}

// DiscardChanges runs the discard-changes RPC (spec.md §6): copy
// running to candidate, clear dirty.
func (s *Server) DiscardChanges() *mgmterror.Error {
	if err := s.Engine.Discard(); err != nil {
		return mgmterror.New(mgmterror.TagOperationFailed, "", err.Error())
	}
	return nil
}

// CancelCommit runs the cancel-commit RPC: trigger rollback immediately.
func (s *Server) CancelCommit(persistID string) *mgmterror.Error {
	if s.Confirm == nil {
		return mgmterror.New(mgmterror.TagOperationFailed, "", "confirmed-commit is not enabled")
	}
	return s.Confirm.CancelCommit(persistID)
}

// CopyConfig duplicates source onto target.
func (s *Server) CopyConfig(source, target string) *mgmterror.Error {
	if err := s.Store.Copy(source, target); err != nil {
		return mgmterror.New(mgmterror.TagOperationFailed, "", err.Error())
	}
	return nil
}

// DeleteConfig removes target's persisted content.
func (s *Server) DeleteConfig(target string) *mgmterror.Error {
	if err := s.Store.Delete(target); err != nil {
		return mgmterror.New(mgmterror.TagOperationFailed, "", err.Error())
	}
	return nil
}

// Lock and Unlock implement the advisory per-datastore lock RPCs
// (spec.md §5, §6), translating store.ErrLocked into the closed
// lock-denied error tag.
func (s *Server) Lock(target string, clientID uint32) *mgmterror.Error {
	if err := s.Store.Lock(target, clientID); err != nil {
		return mgmterror.New(mgmterror.TagLockDenied, "", err.Error())
	}
	return nil
}

func (s *Server) Unlock(target string, clientID uint32) *mgmterror.Error {
	if err := s.Store.Unlock(target, clientID); err != nil {
		return mgmterror.New(mgmterror.TagLockDenied, "", err.Error())
	}
	return nil
}

// EditOperation is the NETCONF-equivalent edit-config operation applied
// to a single top-level element.
type EditOperation string

const (
	OpMerge   EditOperation = "merge"
	OpReplace EditOperation = "replace"
	OpDelete  EditOperation = "delete"
)

// EditConfig mutates target by applying op to config at the document
// root: merge appends or replaces a same-named top-level element,
// replace overwrites the whole tree, delete removes a same-named
// top-level element. Content-level XML/JSON editing semantics beyond
// this are the out-of-scope Tree capability's job (spec.md §1).
func (s *Server) EditConfig(target string, op EditOperation, config *tree.Node) *mgmterror.Error {
	if op == OpReplace {
		if err := s.Store.Save(target, config, nil); err != nil {
			return mgmterror.New(mgmterror.TagOperationFailed, "", err.Error())
		}
		return nil
	}

	root, ms, err := s.Store.Load(target)
	if err != nil {
		return mgmterror.New(mgmterror.TagOperationFailed, "", err.Error())
	}

	for _, child := range config.ElementChildren() {
		switch op {
		case OpMerge:
			if existing, ok := root.Child(child.Name); ok {
				existing.Children = nil
				for _, gc := range tree.Clone(child).Children {
					existing.AddChild(gc)
				}
			} else {
				root.AddChild(tree.Clone(child))
			}
		case OpDelete:
			removeChildByName(root, child.Name)
		default:
			return mgmterror.Protocol(mgmterror.TagBadAttribute, fmt.Sprintf("unknown edit-config operation %q", op))
		}
	}

	if err := s.Store.Save(target, root, ms); err != nil {
		return mgmterror.New(mgmterror.TagOperationFailed, "", err.Error())
	}
	return nil
}

func removeChildByName(parent *tree.Node, name string) {
	out := parent.Children[:0]
	for _, c := range parent.Children {
		if c.Kind == tree.KindElement && c.Name == name {
			continue
		}
		out = append(out, c)
	}
	parent.Children = out
}
