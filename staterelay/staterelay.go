// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package staterelay anchors a transaction's data under a Merkle content
// root and tracks which affected destination chains have been notified
// of it. Notification is local bookkeeping, fire-and-forget from the
// protocol's perspective; delivery and retry belong to an external
// watcher driving the receiving side.
package staterelay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/relay/merkle"
	"github.com/luxfi/relay/state"
)

var (
	ErrNoAffectedChains           = errors.New("no affected chains")
	ErrStateUpdateAlreadyComplete = errors.New("state update already complete")
	ErrContentRootMismatch        = errors.New("content root mismatch")
	ErrChainSetMismatch           = errors.New("affected chain set mismatch")

	_ Notifier = NoopNotifier{}
)

// Notifier records one chain's view of a content root. The default
// no-op notifier keeps notification a purely local act; deployments
// that bridge to live destination chains swap in their own.
type Notifier interface {
	Notify(ctx context.Context, txID ids.ID, chain ids.ID, root ids.ID) error
}

// NoopNotifier marks chains without delivering anywhere.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, ids.ID, ids.ID, ids.ID) error {
	return nil
}

// ChainMark is one affected chain's view of the update.
type ChainMark struct {
	Chain    ids.ID `serialize:"true" json:"chain"`
	Notified bool   `serialize:"true" json:"notified"`
	Root     ids.ID `serialize:"true" json:"root"`
}

// StateUpdate is the relay bookkeeping for one transaction id.
// Completion requires every affected chain notified and is set exactly
// once.
type StateUpdate struct {
	ContentRoot ids.ID      `serialize:"true" json:"contentRoot"`
	Marks       []ChainMark `serialize:"true" json:"marks"`
	Completion  bool        `serialize:"true" json:"completion"`
}

// Outcome reports the effect of one UpdateState call.
type Outcome struct {
	ContentRoot ids.ID

	// Initiated is true when this call created the update record.
	Initiated bool

	// Notified lists the chains newly marked by this call.
	Notified []ids.ID

	// Completed is true only for the call that marked the last chain.
	Completed bool
}

// Manager computes content roots and fans out per-chain notification
// marks.
type Manager struct {
	mu sync.Mutex

	updates  *state.Store[StateUpdate]
	notifier Notifier
	log      log.Logger
}

// New builds a manager over the state update keyspace. A nil notifier
// selects the no-op notifier.
func New(db database.Database, notifier Notifier, log log.Logger) *Manager {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Manager{
		updates:  state.NewStore[StateUpdate](db, Codec, CodecVersion),
		notifier: notifier,
		log:      log,
	}
}

// UpdateState computes the Merkle content root over txData, stores the
// update record, and notifies every affected chain that has not been
// marked yet. A retry after a partial failure resumes with only the
// unmarked chains; a call after completion fails with
// ErrStateUpdateAlreadyComplete. On partial failure the returned
// outcome still lists the chains marked before the failure, alongside
// the error, so callers can account for exactly what happened.
func (m *Manager) UpdateState(ctx context.Context, txID ids.ID, affectedChains []ids.ID, txData [][]byte) (*Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(affectedChains) == 0 {
		return nil, ErrNoAffectedChains
	}

	tree, err := merkle.NewTree(txData)
	if err != nil {
		return nil, err
	}
	rootID, err := ids.ToID(tree.Root())
	if err != nil {
		return nil, err
	}

	update, err := m.updates.Get(txID)
	initiated := err == database.ErrNotFound
	switch {
	case initiated:
		update = &StateUpdate{ContentRoot: rootID}
		seen := set.NewSet[ids.ID](len(affectedChains))
		for _, chain := range affectedChains {
			if seen.Contains(chain) {
				continue
			}
			seen.Add(chain)
			update.Marks = append(update.Marks, ChainMark{Chain: chain})
		}
	case err != nil:
		return nil, err
	case update.Completion:
		return nil, fmt.Errorf("%w: %s", ErrStateUpdateAlreadyComplete, txID)
	case update.ContentRoot != rootID:
		return nil, fmt.Errorf("%w: stored %s, computed %s", ErrContentRootMismatch, update.ContentRoot, rootID)
	default:
		// A resume must describe the same update it is resuming.
		requested := set.Of(affectedChains...)
		if requested.Len() != len(update.Marks) {
			return nil, fmt.Errorf("%w: %s", ErrChainSetMismatch, txID)
		}
		for _, mark := range update.Marks {
			if !requested.Contains(mark.Chain) {
				return nil, fmt.Errorf("%w: %s", ErrChainSetMismatch, txID)
			}
		}
	}

	// Fan out to the unmarked chains; each worker owns one mark.
	pending := make([]int, 0, len(update.Marks))
	for i, mark := range update.Marks {
		if !mark.Notified {
			pending = append(pending, i)
		}
	}

	marked := make([]bool, len(pending))
	g := errgroup.Group{}
	for pi, mi := range pending {
		chain := update.Marks[mi].Chain
		g.Go(func() error {
			if err := m.notifier.Notify(ctx, txID, chain, rootID); err != nil {
				return fmt.Errorf("failed to notify chain %s: %w", chain, err)
			}
			marked[pi] = true
			return nil
		})
	}
	notifyErr := g.Wait()

	notified := make([]ids.ID, 0, len(pending))
	for pi, mi := range pending {
		if marked[pi] {
			update.Marks[mi].Notified = true
			update.Marks[mi].Root = rootID
			notified = append(notified, update.Marks[mi].Chain)
		}
	}

	completed := true
	for _, mark := range update.Marks {
		if !mark.Notified {
			completed = false
			break
		}
	}
	update.Completion = completed

	if err := m.updates.Put(txID, update); err != nil {
		return nil, err
	}

	m.log.Debug("updated relay state",
		log.Stringer("txID", txID),
		log.Stringer("contentRoot", rootID),
		log.Int("notified", len(notified)),
		log.Bool("completed", completed),
	)
	return &Outcome{
		ContentRoot: rootID,
		Initiated:   initiated,
		Notified:    notified,
		Completed:   completed,
	}, notifyErr
}

// GetUpdate returns the update record for txID, or database.ErrNotFound
// if no update has been initiated.
func (m *Manager) GetUpdate(txID ids.ID) (*StateUpdate, error) {
	return m.updates.Get(txID)
}
