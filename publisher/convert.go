package publisher

import (
	"time"

	"github.com/maxpert/credmirror/document"
)

// NewDocEvent builds the event for a completed document write. doc carries
// the revision after the write, or the removed revision for deletes, whose
// events omit the document body.
func NewDocEvent(operation uint8, doc document.Document, nodeID uint64) DocEvent {
	event := DocEvent{
		Operation: operation,
		ID:        doc.ID,
		Rev:       doc.Rev,
		Origin:    doc.Origin,
		Kind:      string(document.ToRecord(doc).Kind()),
		CommitTS:  time.Now().UnixMilli(),
		NodeID:    nodeID,
	}
	if operation != OpDelete {
		event.Doc = &doc
	}
	return event
}
