// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

/*
Package consensus implements the stake-weighted approval track of the
relay protocol.

Validators register once with a stake amount and may vote at most once
per transaction id. Each vote accumulates two monotonic counters on the
transaction's record: the total stake of every voter and the stake of
the approving voters. When the approval ratio reaches the quorum
threshold the record completes, one way and exactly once, and any later
vote is rejected.

# Components

Registry: the append-only validator set. Registration is gated by an
authorization check. Each validator receives a canonical index, its
position in registration order, which voting records use to mark voters
in a compact bitset. Indices are stable because the set never reorders.

Engine: the per-transaction vote ledger. Records are keyed by
transaction id, serialized with the package codec, and persisted in the
same keyspace as the validator set.

The approval track runs independently of proof validation; neither
track observes the other. Completion is reported through the event bus
and the consensus getter.
*/
package consensus
