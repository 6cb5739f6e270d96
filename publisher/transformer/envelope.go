// Package transformer provides implementations of the publisher.Transformer
// interface for converting document events to sink-specific formats.
package transformer

import (
	"github.com/maxpert/credmirror/document"
	"github.com/maxpert/credmirror/publisher"
)

// Envelope is the published shape of a document event. Its id, rev,
// deleted, doc and node keys are what inbound sources decode, so the
// output of one node can be replicated into another.
type Envelope struct {
	ID      string             `json:"id" msgpack:"id"`
	Rev     string             `json:"rev" msgpack:"rev"`
	Deleted bool               `json:"deleted" msgpack:"deleted"`
	Doc     *document.Document `json:"doc,omitempty" msgpack:"doc,omitempty"`
	Origin  string             `json:"origin" msgpack:"origin"`
	Kind    string             `json:"kind" msgpack:"kind"`
	Op      string             `json:"op" msgpack:"op"`
	Seq     uint64             `json:"seq" msgpack:"seq"`
	TsMs    int64              `json:"ts_ms" msgpack:"ts"`
	Node    uint64             `json:"node" msgpack:"node"`
}

// NewEnvelope flattens event into its published shape
func NewEnvelope(event publisher.DocEvent) Envelope {
	return Envelope{
		ID:      event.ID,
		Rev:     event.Rev,
		Deleted: event.Deleted(),
		Origin:  event.Origin,
		Kind:    event.Kind,
		Op:      opName(event.Operation),
		Seq:     event.SeqNum,
		TsMs:    event.CommitTS,
		Node:    event.NodeID,
		Doc:     event.Doc,
	}
}

func opName(op uint8) string {
	switch op {
	case publisher.OpInsert:
		return "c"
	case publisher.OpUpdate:
		return "u"
	case publisher.OpDelete:
		return "d"
	default:
		return "unknown"
	}
}
