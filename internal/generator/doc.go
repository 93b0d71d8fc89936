// Package generator runs the feed generation cycle.
//
// A cycle is a chain of independent scheduler invocations:
//
//	feed.generate -> feed.generation.start -> feed.generation.batch (0..N) -> feed.generation.end
//
// No in-memory state survives between invocations. Counters, retry budgets and
// batch checkpoints live in the generation state, and each handler is safe to
// run again with the same arguments.
package generator
