// Package state owns the runtime state shared by every shell session.
//
// A single Store holds the global definitions (functions, aliases, modules),
// the environment, the shell configuration, signal dispositions, and the
// source file/span registry. Sessions read through concurrent accessors and
// mutate only through the named merge operations, so a completed merge is
// fully visible to every later read and no reader ever observes a merge in
// progress.
//
// Writers that fail or panic mid-merge do not leave the state half-applied:
// the Store rolls back to the last-known-good snapshot taken after the
// previous successful merge. A merge rejected by validation is restored and
// reported as a warning, however often it recurs. A merge that panics
// mid-mutation is a corruption detection tracked by a Guard; consecutive
// detections hitting its threshold abort the process, since shared-state
// integrity cannot be locally reconstructed a second time.
package state
