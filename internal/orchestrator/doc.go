// Package orchestrator coordinates the local, remote and fallback document
// stores.
//
// # Overview
//
// An Orchestrator is the only surface other components use. It ingests
// documents, lists the merged view of every store, reports statistics, and
// drains the sync backlog to the remote store when connectivity allows.
//
// # Ingestion
//
// Ingestion always writes to the local store first. If the local store
// reports document.ErrStorageUnavailable, the orchestrator routes every later
// ingest to the fallback store for the rest of its lifetime. Fallback
// documents stay pending and are never drained. Ingest fails only when both
// stores fail.
//
// # Drain
//
// A drain snapshots processed, unsynced local documents oldest first and
// upserts them one at a time:
//
//	backlog := local.Backlog(MaxItemsPerDrain)
//	for each doc:
//	    remote.Upsert(doc) with RemoteTimeout
//	    ok   -> local.MarkSynced(doc, now)
//	    fail -> local.Update(doc, failed); continue
//	    wait ItemSpacing
//
// At most one drain runs at a time; a concurrent SyncNow returns an empty
// result immediately. A pass cut short by MaxItemsPerDrain or
// MaxDrainDuration schedules a follow-up pass.
//
// # Connectivity
//
// The remote is considered online when the platform network flag is set and
// the TTL-cached probe succeeds. An offline to online transition schedules a
// drain after SettleDelay.
//
// # Example
//
//	orch, err := orchestrator.New(localStore, remoteStore, fallbackStore, nil)
//	if err != nil {
//	    return err
//	}
//	defer orch.Close()
//
//	res, err := orch.Ingest(ctx, orchestrator.IngestRequest{
//	    FileName: "passport.jpg",
//	    FileType: "image/jpeg",
//	    Payload:  data,
//	})
package orchestrator
