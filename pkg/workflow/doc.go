// Package workflow implements the four meshgate workflows: create-network,
// destroy-network, deploy-app, and destroy-app.
//
// Each workflow couples a hydrator with a transition function over a phase
// machine from pkg/engine. The hydrator answers "where did we leave off?" by
// running an ordered sequence of read-only checks against live
// infrastructure, cheapest and most authoritative first; the first
// unsatisfied precondition names the resume phase. Absence of a resource is
// never an error during hydration, it is the signal. This makes every
// workflow idempotent and crash-resumable: completed phases are verified by
// cheap reads and never redone.
//
// Side effects happen only in transitions. Reads may fan out (pkg/discovery)
// but transitions always run sequentially within one invocation.
package workflow
