// Package pipeline drives the neighborhood graph from a hypothesis source.
//
// It is the composition root for one tracking loop: it reads batches from
// an l4perception.HypothesisSource, applies them to the l5tracks graph as
// the single writer, and fans the resulting TrackFrame out to sinks
// (publisher, store, recorder). The pipeline does not own domain logic; it
// delegates to layer packages and adapters.
package pipeline
