// Package policy implements additive patching of the mesh network's shared
// access-policy document.
//
// The policy document is owned by the mesh provider and shared by every
// network and tool in the organization. meshgate therefore never rewrites it
// wholesale: each patch is a pure function over a generic document that
// appends exactly one entry to one of the three substructures meshgate knows
// about (tagOwners, autoApprovers.routes, acls) and leaves everything else
// byte-for-byte untouched, including top-level keys meshgate has never heard
// of. Mirror remove operations exist for teardown rollback and filter out
// only the exact matching entry.
//
// Before an additive patch is written back, AssertAdditive checks that no
// top-level key disappeared and no top-level array shrank. A violation means
// a patch function is buggy in a way that could silently revoke unrelated
// access grants, so it panics rather than returning an error.
//
// The write path is always read, patch locally, validate remotely (dry-run),
// then commit. There is no concurrency token on the remote document; two
// simultaneous writers race and the later write wins (see DESIGN.md).
package policy
