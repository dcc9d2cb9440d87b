// Package run tracks prompt executions ("runs") and turns agent output into
// the public run event stream.
//
// A Registry holds every run record, sharded by id. A Manager creates runs,
// drives each started run with its own agent.Handle and forwards the agent's
// stream events into the registry and to the run's current Subscriber.
//
// Status moves along
//
//	pending -> running -> completed | failed
//	pending | running -> cancelled
//
// and never leaves a terminal status. Incremental deltas are delivered at most
// once: a subscriber that attaches late misses earlier deltas, but it can
// always rebuild the terminal event from the run snapshot.
package run
