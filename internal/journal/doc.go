// Package journal persists realtime feed events to Postgres.
//
// A Journal listens on the dispatcher for match_created, commentary and
// score_update events, buffers one row per event and batch-inserts them into
// the feed_events table. Rows are flushed when the batch fills or when the
// flush interval elapses, and once more on Stop.
//
// Inserts are append-only. Commentary and match rows get an event id derived
// from the server id, so the same entry delivered twice (for example after a
// reconnect) is written once. Score updates carry no server id and always
// insert.
package journal
