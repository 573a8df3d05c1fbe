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

// Package txengine implements the Transaction Engine, component D of
// spec.md §4.D: the state machine that takes a candidate datastore
// through validation and commit against the running datastore, built
// around the same two shared cores (validate_common, startup_common)
// spec.md names so that commit and startup replay cannot drift apart.
//
// The engine serializes transactions the way the teacher's ChainEngine
// (engine/chain_engine.go) serializes execution of one rule chain
// instance: State, Validate, Commit, CommitStartup, RollbackTo and
// Discard take an internal lock, so at most one of them runs at a time.
// There is no event-loop goroutine or request queue.
package txengine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/confcore/confcore/plugin"
	"github.com/confcore/confcore/store"
	"github.com/confcore/confcore/tree"
	"github.com/confcore/confcore/txerr"
	"github.com/confcore/confcore/validate"
	"github.com/confcore/confcore/yang"
)

// State is a transaction's position in the commit state machine spec.md
// §4.D lays out: IDLE -> OPEN -> VALIDATED -> READY -> COMMITTED ->
// INSTALLED -> IDLE, with an ABORTING branch reachable from OPEN,
// VALIDATED or READY.
type State int

const (
	StateIdle State = iota
	StateOpen
	StateValidated
	StateReady
	StateCommitted
	StateInstalled
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateOpen:
		return "OPEN"
	case StateValidated:
		return "VALIDATED"
	case StateReady:
		return "READY"
	case StateCommitted:
		return "COMMITTED"
	case StateInstalled:
		return "INSTALLED"
	case StateAborting:
		return "ABORTING"
	default:
		return "UNKNOWN"
	}
}

// Logger is the minimal logging interface the engine depends on,
// matching the single Printf method the teacher's Config.Logger uses
// (types/config.go).
type Logger interface {
	Printf(format string, v ...any)
}

type stdLogger struct{ l *log.Logger }

func (s stdLogger) Printf(format string, v ...any) { s.l.Printf(format, v...) }

// DefaultLogger writes to the standard library's default logger, the
// way the teacher falls back to a concrete Logger when none is
// supplied via options.
func DefaultLogger() Logger { return stdLogger{l: log.Default()} }

// Config is the engine's dependency set, built through functional
// options exactly like the teacher's types.Config/types.Option pair
// (types/options.go).
type Config struct {
	Logger    Logger
	Store     *store.Store
	Spec      *yang.StaticSpec
	Validator *validate.Validator
	Bus       *plugin.Bus

	// RunningName and CandidateName name the datastores validate_common
	// and commit operate between. Defaults: "running", "candidate".
	RunningName   string
	CandidateName string
}

type Option func(*Config)

func WithLogger(l Logger) Option          { return func(c *Config) { c.Logger = l } }
func WithStore(s *store.Store) Option     { return func(c *Config) { c.Store = s } }
func WithSpec(sp *yang.StaticSpec) Option { return func(c *Config) { c.Spec = sp } }
func WithValidator(v *validate.Validator) Option {
	return func(c *Config) { c.Validator = v }
}
func WithBus(b *plugin.Bus) Option { return func(c *Config) { c.Bus = b } }
func WithDatastoreNames(running, candidate string) Option {
	return func(c *Config) { c.RunningName = running; c.CandidateName = candidate }
}

func NewConfig(opts ...Option) Config {
	c := Config{
		Logger:        DefaultLogger(),
		RunningName:   "running",
		CandidateName: "candidate",
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Transaction is the record spec.md §4.D describes: the source and
// target trees under consideration and the four diff vectors computed
// between them.
type Transaction struct {
	ID         string
	Source     *tree.Node
	Target     *tree.Node
	Diff       tree.Diff
	State      State
	LockHolder uint32
}

var (
	commitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confcore",
			Subsystem: "txengine",
			Name:      "commits_total",
			Help:      "Total commit attempts by result",
		},
		[]string{"result"},
	)
	commitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "confcore",
			Subsystem: "txengine",
			Name:      "commit_duration_seconds",
			Help:      "Commit latency from the lock check through plugin end",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(commitTotal, commitDuration)
}

// Engine drives exactly one in-flight transaction at a time, matching
// spec.md §5's single-goroutine event loop.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	tx  *Transaction
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tx == nil {
		return StateIdle
	}
	return e.tx.State
}

// validateCommon is the shared core spec.md §4.D requires both the
// candidate-validate RPC and the commit path to run through: load
// source and target, diff them, fill defaults and run the generic
// validator over the result. It never writes anything back to storage.
//
// loadSource, when nil, loads e.cfg.RunningName from the store (the
// candidate-validate/candidate-commit transitions of spec.md §4.D,
// point 1). startup_common (spec.md §4.E) passes a loadSource that
// returns a synthetic empty tree instead, so the whole target diffs as
// an all-ADD vector without a second shared implementation to drift
// out of sync with this one.
func (e *Engine) validateCommon(targetName string, loadSource func() (*tree.Node, error)) (*Transaction, txerr.Result) {
	if loadSource == nil {
		loadSource = func() (*tree.Node, error) {
			n, _, err := e.cfg.Store.Load(e.cfg.RunningName)
			return n, err
		}
	}
	source, err := loadSource()
	if err != nil {
		return nil, txerr.FatalResult(fmt.Sprintf("load source: %v", err))
	}
	target, _, err := e.cfg.Store.Load(targetName)
	if err != nil {
		return nil, txerr.FatalResult(fmt.Sprintf("load %s: %v", targetName, err))
	}

	// An empty candidate (never edited) loads as an empty "config"
	// element, which validates trivially and commits as an empty running
	// (spec.md §8 boundary case "empty candidate commits succeed").
	bindSpec(target, e.cfg.Spec.Root())
	bindSpec(source, e.cfg.Spec.Root())

	e.cfg.Validator.FillDefaults(target)
	d := tree.Compute(source, target)

	id, err := uuid.NewV4()
	if err != nil {
		return nil, txerr.FatalResult(fmt.Sprintf("generate transaction id: %v", err))
	}
	tx := &Transaction{ID: id.String(), Source: source, Target: target, Diff: d, State: StateOpen}

	if errs := e.cfg.Validator.ValidateAllTop(target); errs.HasErrors() {
		tx.State = StateAborting
		return tx, txerr.Validation(errs)
	}
	tx.State = StateValidated
	return tx, txerr.OkResult()
}

// bindSpec rebinds a freshly loaded tree's node.Spec pointers against
// the currently active schema, mirroring what a real datastore does on
// every read since persisted nodes carry no schema of their own (see
// store.wireNode).
func bindSpec(n *tree.Node, spec *yang.Statement) {
	if spec == nil || n == nil {
		return
	}
	n.Spec = spec
	for _, c := range n.ElementChildren() {
		if childSpec, ok := spec.Child(c.Name); ok {
			bindSpec(c, childSpec)
		}
	}
}

// Validate runs validate_common and reports the result without
// touching running or the plugin bus — the `validate` RPC of spec.md
// §4.D.
func (e *Engine) Validate() txerr.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, res := e.validateCommon(e.cfg.CandidateName, nil)
	e.tx = tx
	return res
}

// Commit runs validate_common, then drives the plugin bus through its
// full lifecycle and persists the resulting tree as the new running
// datastore. Only the running lock is checked: if another client holds
// it, Commit returns a TransactionError with Reason "in-use" instead of
// overriding that session's lock (spec.md §5). The candidate lock is not
// checked.
func (e *Engine) Commit(clientID uint32) (txid string, res txerr.Result) {
	return e.commit(commitOptions{
		targetName:          e.cfg.CandidateName,
		clientID:            clientID,
		checkLock:           true,
		resetCandidateDirty: true,
	})
}

// commitOptions parameterizes the one commit path that candidate-commit
// (spec.md §4.D), startup-replay (spec.md §4.E, via CommitStartup) and
// confirmed-commit rollback (spec.md §4.F, via RollbackTo) all share, so
// "install target as running through the full plugin lifecycle" has a
// single implementation regardless of who's asking.
type commitOptions struct {
	targetName          string
	clientID            uint32
	checkLock           bool
	resetCandidateDirty bool
	loadSource          func() (*tree.Node, error)
}

func (e *Engine) commit(opts commitOptions) (txid string, res txerr.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() {
		commitTotal.WithLabelValues(resultLabel(res)).Inc()
		commitDuration.WithLabelValues(resultLabel(res)).Observe(time.Since(start).Seconds())
	}()

	if opts.checkLock {
		if holder := e.cfg.Store.LockHolder(e.cfg.RunningName); holder != 0 && holder != opts.clientID {
			return "", txerr.Transaction("in-use")
		}
	}

	tx, res := e.validateCommon(opts.targetName, opts.loadSource)
	if !res.IsOk() {
		e.tx = tx
		return "", res
	}
	tx.LockHolder = opts.clientID
	e.tx = tx

	ctx := plugin.NewContext(tx.ID, tx.Target, tx.Diff.Added, tx.Diff.Deleted, flattenPairs(tx.Diff.TgtChanged))
	tx.State = StateReady

	applied, busRes := e.cfg.Bus.Run(ctx)
	if !applied {
		tx.State = StateAborting
		e.cfg.Logger.Printf("txengine: commit aborted: %s", busRes.Error())
		return "", busRes
	}
	tx.State = StateCommitted

	if err := e.cfg.Store.Save(e.cfg.RunningName, tx.Target, nil); err != nil {
		tx.State = StateAborting
		return "", txerr.FatalResult(fmt.Sprintf("persist running: %v", err))
	}
	if opts.resetCandidateDirty {
		e.cfg.Store.ResetDirty(e.cfg.CandidateName)
	}
	tree.ClearFlags(tx.Target)
	tx.State = StateInstalled

	endRes := e.cfg.Bus.End(ctx)

	e.cfg.Logger.Printf("txengine: commit installed from %s, %d added, %d deleted, %d changed",
		opts.targetName, len(tx.Diff.Added), len(tx.Diff.Deleted), len(tx.Diff.TgtChanged))

	tx.State = StateIdle

	if !busRes.IsOk() {
		return tx.ID, busRes
	}
	return tx.ID, endRes
}

// CommitStartup runs startup_common (spec.md §4.E): it installs
// targetName (the freshly upgraded startup tree) as running the same
// way candidate-commit does, except the diff is computed against a
// synthetic empty source so every node in targetName lands in the
// added vector, and the caller (package startup) is responsible for the
// failsafe fallback if this returns a non-Ok result.
func (e *Engine) CommitStartup(targetName string) (string, txerr.Result) {
	return e.commit(commitOptions{
		targetName: targetName,
		checkLock:  false,
		loadSource: func() (*tree.Node, error) { return tree.NewElement("config", "", nil), nil },
	})
}

// RollbackTo installs snapshotName (a confirmed-commit rollback
// datastore, spec.md §4.F) as running through the ordinary commit
// lifecycle, bypassing the running lock (the engine itself, not a
// client session, drives this transition) and leaving the candidate
// dirty bit untouched since snapshotName is not the candidate.
func (e *Engine) RollbackTo(snapshotName string) (string, txerr.Result) {
	return e.commit(commitOptions{targetName: snapshotName, checkLock: false})
}

// SnapshotRunning copies the current running datastore onto name,
// unvalidated — used by the confirmed-commit manager to capture the
// pre-commit running tree before Commit overwrites it
// (spec.md §4.F "take a snapshot of the previous running").
func (e *Engine) SnapshotRunning(name string) error {
	return e.cfg.Store.Copy(e.cfg.RunningName, name)
}

// RunningName and CandidateName expose the configured datastore names
// to collaborators (rpc, confirm) that need to name them in requests
// without duplicating the defaults.
func (e *Engine) RunningName() string   { return e.cfg.RunningName }
func (e *Engine) CandidateName() string { return e.cfg.CandidateName }
func (e *Engine) Store() *store.Store   { return e.cfg.Store }

func flattenPairs(pairs []tree.NodePair) []*tree.Node {
	out := make([]*tree.Node, len(pairs))
	for i, p := range pairs {
		out[i] = p.Tgt
	}
	return out
}

func resultLabel(res txerr.Result) string {
	switch res.Kind {
	case txerr.Ok:
		return "ok"
	case txerr.ValidationFail:
		return "validation_fail"
	case txerr.TransactionError:
		return "transaction_error"
	default:
		return "fatal"
	}
}

// Discard drops the candidate's uncommitted edits by overwriting it
// with running, and runs every plugin's Reset hook (spec.md §4.D
// `discard-changes`).
func (e *Engine) Discard() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.cfg.Store.Copy(e.cfg.RunningName, e.cfg.CandidateName); err != nil {
		return err
	}
	e.cfg.Store.ResetDirty(e.cfg.CandidateName)
	return e.cfg.Bus.RunReset()
}
