// Package engine provides the generic phase state machine that drives every
// meshgate workflow.
//
// # Overview
//
// A workflow (create-network, destroy-network, deploy-app, destroy-app) is a
// finite ordered set of phases plus a transition function. The engine itself
// is deliberately small: a Machine holds the declared phase order and a pure
// loop advances the current phase by invoking the transition function until
// the terminal phase is reached or the transition returns an error.
//
// All side effects live inside transitions. The Machine performs no I/O of
// its own, which is what makes workflows resumable: a hydrator inspects live
// infrastructure, picks the first phase whose precondition is unsatisfied,
// and the Machine runs forward from there.
//
// # Error model
//
// Two failure classes are distinguished everywhere in meshgate:
//
//   - Expected failures (user cancellation, remote validation rejection,
//     permission denial, timeouts waiting on infrastructure) are returned as
//     classified *Error values. The Machine stops and propagates them
//     untouched; the caller decides presentation.
//   - Programming errors (a transition returning an undeclared phase, a phase
//     moving backwards, an additive policy patch shrinking the document) are
//     bugs in meshgate itself and abort via panic. They are never returned,
//     retried, or swallowed.
package engine
