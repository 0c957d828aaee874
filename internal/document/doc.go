// Package document defines the data model shared by every docstage store.
//
// # Overview
//
// A Document is one staged file (photo, signature, certificate) plus the
// optional data external collaborators derive from it. The binary payload is
// owned by the local store; every other store only ever holds a copy.
//
// # Status Lifecycle
//
//	pending ──► processed ──► synced
//	   │            │
//	   └──► failed ◄┘
//
// A failed document stays failed until it is explicitly retried, which
// returns it to the status it held before the failure. A synced document
// never changes status again.
//
// # Sources
//
// Listings merge three stores. Each returned document carries a Source
// annotation (local, remote, fallback) that is computed at read time and
// never persisted. When the same logical document appears in several stores
// the copy with the highest precedence wins:
//
//	remote > local > fallback
//
// Two copies are the same logical document when their DedupKey values match.
package document
