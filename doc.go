// Package rewind provides a session capture and deterministic replay engine
// for Go.
//
// Rewind is a library, not a service. A recorder observes a live document
// and user input and turns them into an ordered stream of typed events.
// Batches of events are uploaded to the ingestion boundary, which assigns
// sequence numbers, folds a session summary and persists the stream. The
// player rebuilds the document at any instant of a recording, and the
// signal detectors derive rage clicks, scroll depth and grouped errors from
// the same stream.
//
// Key features:
//   - Idempotent batch ingestion with per-session ordering
//   - Custom event catalog with JSON Schema validation and a quarantine for
//     rejected events
//   - Composable store pattern with multiple backends (Postgres, SQLite,
//     MongoDB, Redis, Badger, Memory)
//   - Seekable playback with inactivity skipping and checkpointed
//     reconstruction
//   - Live tails over an in-process hub or NATS
//
// Quick start:
//
//	rw, err := rewind.New(
//	    rewind.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p, _ := rw.Projects().Create(ctx, project.Input{Name: "storefront"})
//
//	res, err := rw.IngestRaw(ctx, p.IngestKey, body)
//
//	data, err := rw.Replay(ctx, res.SessionID)
package rewind
