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

// Package confirm implements the Confirmed-Commit Manager, component F
// of spec.md §4.F: arming a rollback timer on a confirmed commit,
// reconciling confirming commits against it, and persisting the small
// state record across a restart.
package confirm

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/confcore/confcore/clock"
	"github.com/confcore/confcore/mgmterror"
	"github.com/confcore/confcore/store"
	"github.com/confcore/confcore/txengine"
	"github.com/confcore/confcore/txerr"
)

// Phase is the confirmed-commit state spec.md §3 names.
type Phase int

const (
	Inactive Phase = iota
	ConfirmedWait
	Rollback
)

func (p Phase) String() string {
	switch p {
	case ConfirmedWait:
		return "CONFIRMED_WAIT"
	case Rollback:
		return "ROLLBACK"
	default:
		return "INACTIVE"
	}
}

// DefaultTimeout is the confirm-timeout spec.md §4.F applies when the
// RPC omits it.
const DefaultTimeout = 600 * time.Second

// State is ConfirmedCommitState (spec.md §3), the record persisted to
// disk so a crash between confirm and timeout is still honored.
type State struct {
	Phase        Phase     `json:"phase"`
	PersistToken string    `json:"persistToken,omitempty"`
	SessionID    uint32    `json:"sessionId"`
	Deadline     time.Time `json:"deadline"`
	Snapshot     string    `json:"snapshot,omitempty"`
}

// EventPublisher is an optional sink for confirmed-commit lifecycle
// events (armed, extended, confirmed, rolled-back), wired to an MQTT broker by
// cmd/confcored when configured and a no-op otherwise — tests never
// dial a broker because Manager works with a nil EventPublisher.
type EventPublisher interface {
	Publish(event string, state State) error
}

// Request is the subset of a commit RPC's confirmed-commit fields
// spec.md §4.F describes.
type Request struct {
	Confirmed bool
	// TimeoutSeconds is nil when the client omitted <confirm-timeout/>
	// (DefaultTimeout applies); an explicit zero is invalid (spec.md §8:
	// "a confirmed commit with confirm-timeout=0 is rejected").
	TimeoutSeconds *int
	Persist        string
	PersistID      string
}

// Manager owns the timer and the persisted state for one engine's
// confirmed-commit window. Only one window is active at a time, matching
// spec.md §5's single in-flight transaction assumption.
type Manager struct {
	engine    *txengine.Engine
	clock     clock.Clock
	statePath string
	publisher EventPublisher

	mu    sync.Mutex
	state State
	timer clock.Timer
}

func New(engine *txengine.Engine, clk clock.Clock, statePath string, publisher EventPublisher) *Manager {
	return &Manager{engine: engine, clock: clk, statePath: statePath, publisher: publisher}
}

// Restore loads a persisted state file, if any, and either fires the
// rollback immediately (deadline already passed) or re-arms the timer
// for the remaining window (spec.md §4.F "persistence ... a crash ...
// still triggers rollback on restart ... or re-arms the timer").
func (m *Manager) Restore() error {
	data, err := os.ReadFile(m.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read confirmed-commit state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode confirmed-commit state: %w", err)
	}
	if st.Phase != ConfirmedWait {
		return nil
	}

	m.mu.Lock()
	m.state = st
	now := m.clock.Now()
	if !st.Deadline.After(now) {
		m.mu.Unlock()
		m.fire()
		return nil
	}
	remaining := st.Deadline.Sub(now)
	m.timer = m.clock.AfterFunc(remaining, m.fire)
	m.mu.Unlock()
	return nil
}

// Begin arms a new confirmed commit: the caller has already committed
// req's candidate to running via engine.Commit, but must snapshot
// running *before* that commit and call Begin with that snapshot name.
func (m *Manager) Begin(sessionID uint32, req Request, snapshot string) (*mgmterror.Error, error) {
	timeout, mgmtErr := resolveTimeout(req.TimeoutSeconds)
	if mgmtErr != nil {
		return mgmtErr, nil
	}

	persistToken := req.Persist

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = State{
		Phase:        ConfirmedWait,
		PersistToken: persistToken,
		SessionID:    sessionID,
		Deadline:     m.clock.Now().Add(timeout),
		Snapshot:     snapshot,
	}
	if err := m.persistLocked(); err != nil {
		return nil, err
	}
	m.timer = m.clock.AfterFunc(timeout, m.fire)
	m.publish("armed")
	return nil, nil
}

// Reconcile decides whether a newly-arriving commit confirms, extends,
// or is unrelated to the active confirmed-commit window (spec.md §4.F
// "Confirming commit" / "Extending"). It must be called before the new
// commit's candidate is committed to running, because a confirmed
// extension keeps the *original* rollback snapshot rather than taking a
// new one.
//
// Returns (confirmedOrExtended, error). When confirmedOrExtended is
// true and req.Confirmed is false, the caller's commit also confirms
// the outstanding window (timer cancelled, snapshot dropped). When true
// and req.Confirmed is also true, the window is extended instead.
func (m *Manager) Reconcile(sessionID uint32, req Request) (bool, *mgmterror.Error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Phase != ConfirmedWait {
		return false, nil, nil
	}
	matches := (req.PersistID != "" && req.PersistID == m.state.PersistToken) ||
		(req.PersistID == "" && sessionID == m.state.SessionID && req.Persist == "")
	if !matches {
		return false, nil, nil
	}

	if req.Confirmed {
		timeout, mgmtErr := resolveTimeout(req.TimeoutSeconds)
		if mgmtErr != nil {
			return false, mgmtErr, nil
		}
		m.state.Deadline = m.clock.Now().Add(timeout)
		if m.timer != nil {
			m.timer.Reset(timeout)
		} else {
			m.timer = m.clock.AfterFunc(timeout, m.fire)
		}
		if err := m.persistLocked(); err != nil {
			return false, nil, err
		}
		m.publish("extended")
		return true, nil, nil
	}

	if m.timer != nil {
		m.timer.Stop()
	}
	snapshot := m.state.Snapshot
	m.state = State{Phase: Inactive}
	if err := m.persistLocked(); err != nil {
		return false, nil, err
	}
	if snapshot != "" {
		_ = m.engine.Store().Delete(snapshot)
	}
	m.publish("confirmed")
	return true, nil, nil
}

// CancelCommit implements the cancel-commit RPC (spec.md §6): trigger
// rollback immediately regardless of the timer deadline. persistID, if
// non-empty, must match the active window's persist token.
func (m *Manager) CancelCommit(persistID string) *mgmterror.Error {
	m.mu.Lock()
	if m.state.Phase != ConfirmedWait {
		m.mu.Unlock()
		return mgmterror.New(mgmterror.TagOperationFailed, "", "no active confirmed commit")
	}
	if persistID != "" && persistID != m.state.PersistToken {
		m.mu.Unlock()
		return mgmterror.New(mgmterror.TagInvalidValue, "", "persist-id does not match active confirmed commit")
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()

	m.fire()
	return nil
}

// OnSessionEnd treats a disconnect of the issuing session as an
// immediate timer fire, unless the commit carried a persist token (in
// which case any session presenting it may still confirm) — spec.md
// §4.F "Session end".
func (m *Manager) OnSessionEnd(sessionID uint32) {
	m.mu.Lock()
	if m.state.Phase != ConfirmedWait || m.state.SessionID != sessionID || m.state.PersistToken != "" {
		m.mu.Unlock()
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()
	m.fire()
}

// Active reports the current phase and, if ConfirmedWait, the state.
func (m *Manager) Active() (Phase, State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Phase, m.state
}

// fire engages the Rollback phase (spec.md §4.F "Timer fire"): it
// installs the snapshot datastore as running through the engine's
// ordinary commit lifecycle (RollbackTo), skipping this manager's own
// reconcile logic entirely so a rollback can never itself be treated as
// a confirming or confirmed commit (spec.md "must skip the
// confirmed-commit logic itself, avoiding infinite regress").
func (m *Manager) fire() {
	m.mu.Lock()
	if m.state.Phase != ConfirmedWait {
		m.mu.Unlock()
		return
	}
	snapshot := m.state.Snapshot
	m.state.Phase = Rollback
	_ = m.persistLocked()
	m.mu.Unlock()

	rollbackResult := txerr.OkResult()
	if snapshot != "" {
		_, rollbackResult = m.engine.RollbackTo(snapshot)
	}

	m.mu.Lock()
	m.state = State{Phase: Inactive}
	_ = m.persistLocked()
	m.mu.Unlock()

	if snapshot != "" {
		_ = m.engine.Store().Delete(snapshot)
	}
	if !rollbackResult.IsOk() {
		// Best-effort: the window closes regardless, per spec.md §9 the
		// operator is responsible for recovery if rollback itself fails.
		_ = rollbackResult.Error()
	}
	m.publish("rolled-back")
}

func (m *Manager) persistLocked() error {
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode confirmed-commit state: %w", err)
	}
	if m.statePath == "" {
		return nil
	}
	return store.WriteFileAtomic(m.statePath, data)
}

func (m *Manager) publish(event string) {
	if m.publisher == nil {
		return
	}
	_ = m.publisher.Publish(event, m.state)
}

// ValidateTimeout reports the invalid-value error an explicit
// confirm-timeout=0 produces (spec.md §8), without arming anything —
// callers that need to reject a request before taking any side effect
// (e.g. rpc.Server.Commit, before snapshotting running) use this instead
// of waiting for Begin to perform the same check.
func ValidateTimeout(seconds *int) *mgmterror.Error {
	_, mgmtErr := resolveTimeout(seconds)
	return mgmtErr
}

func resolveTimeout(seconds *int) (time.Duration, *mgmterror.Error) {
	if seconds == nil {
		return DefaultTimeout, nil
	}
	if *seconds <= 0 {
		return 0, mgmterror.New(mgmterror.TagInvalidValue, "", "confirm-timeout must be positive")
	}
	return time.Duration(*seconds) * time.Second, nil
}

// SnapshotName derives the "rollback_<session-or-persist-id>" name
// spec.md §6 specifies for confirmed-commit snapshots, preferring the
// persist token when the client supplied one so a later session can
// still address it by persist-id.
func SnapshotName(sessionID uint32, persist string) string {
	if persist != "" {
		return "rollback_" + persist
	}
	return fmt.Sprintf("rollback_session-%d", sessionID)
}

// NewPersistToken mints an opaque persist token for clients that set
// <persist/> without a value of their own, using the same id source the
// rest of confcore uses for transaction ids (txengine.validateCommon).
func NewPersistToken() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
