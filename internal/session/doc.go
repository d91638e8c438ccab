// Package session runs one interactive shell session: a read-eval-print
// loop bound to one PTY slave and one local overlay over the shared state.
//
// The loop has a single ordinary suspension point, the blocking line read.
// Evaluation is atomic from the outside: signals interrupt it through the
// evaluator's own interrupt hook, and destruction unblocks the read by
// closing the PTY rather than tearing down an evaluation in flight. Local
// overlay contents never become visible to other sessions before an
// explicit merge.
package session
