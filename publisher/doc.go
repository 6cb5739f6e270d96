// Package publisher fans document store writes out to external systems.
//
// The reconciler appends one DocEvent per document write to a PublishLog, a
// Pebble-backed append-only log. Every configured sink gets a Worker that
// reads the log from its own persisted cursor, filters by origin and kind,
// transforms the event and publishes it with exponential-backoff retry.
//
// Key layout:
//
//	/evt/{seq:016x}   -> msgpack(DocEvent)
//	/cursor/{sink}    -> uint64 (last published seq)
//	/seq              -> uint64 (last assigned seq)
//
// Events consumed by every sink are compacted periodically. Sinks register
// in the sink package and transformers in the transformer package, both via
// init; import them for side effects.
//
// Topics are {topic_prefix}.{kind}, keyed by document id. Deletes are
// followed by a nil-valued tombstone for log-compacted topics.
package publisher
