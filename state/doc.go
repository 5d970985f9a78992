// Package state implements the tracked entity-attribute store that models
// exchange data through.
//
// # Reading Guide
//
// Start with these three files to understand the storage kernel:
//   - index.go: stable entity ids and their mapping to dense row positions
//   - dense.go: fixed-length columns with baseline-relative change tracking
//   - csr.go: ragged columns (flat data + row offsets) with accumulated
//     per-row change tracking and the CSR algorithms (update, slice,
//     row predicates)
//
// Then the layers on top:
//   - attribute.go: one column wrapped with its data type, undefined and
//     special sentinel semantics, role flags, and the wire block
//     conversions (undefined-preserving merge, placeholder deltas)
//   - entity_group.go: attributes sharing one id index; first-ingestion id
//     adoption and atomic growth
//   - state.go: the registry across datasets, plus update ingestion, delta
//     generation, readiness queries, and the pub/sub filter
//
// # Change Tracking
//
// Dense columns snapshot their contents on the first write after a reset
// and compare lazily against that baseline; float comparison is
// tolerance-based so re-writing an equal value never reports a change.
// Ragged columns flag replaced rows eagerly and accumulate flags across
// updates, because their buffers are rebuilt on every update. Both reset
// through TrackedState.ResetChanges at the documented cycle points.
//
// # Roles
//
// Every attribute carries role flags (INIT, SUB, OPT, PUB) declaring why a
// model registered it. Readiness queries, delta generation, change resets,
// and the pub/sub filter all select attributes by role.
package state
