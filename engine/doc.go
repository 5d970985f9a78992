// Package engine drives models against a tracked entity-attribute store.
//
// A Runner owns one state.TrackedState and a queue of inbound updates.
// Step walks one cycle of the exchange protocol: apply queued updates,
// gate on readiness, run the model once its data is there, publish the
// rows it changed, reset. Models implement the Model interface and never
// see the queueing or the reset discipline; they read and write the state
// they declared during Setup.
package engine
