// Package fmd implements the file metadata change-log a storage server
// keeps for each filesystem it owns: a durable, append-only log of create,
// update, and delete events, an in-memory index for point lookup, and
// per-principal quota accumulators maintained incrementally from the same
// stream.
//
// The log is the ground truth. The index and the quota counters are
// derived, rebuildable caches - a crash never loses data the log already
// durably holds, it only costs a rescan on the next attach.
//
// Subpackages: envcodec carries one record over a text channel (URL-style
// key/value form); catalog and checksum define the narrow interfaces the
// fsck engine needs from collaborators outside this package's scope;
// fsck implements the reconciliation engine itself.
package fmd
