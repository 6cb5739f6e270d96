// Package mirror keeps the document store in step with the record store.
//
// Record store notifications are classified into Changes, and each Change is
// reconciled against the document store by derived id. A full Sync replays
// every stored record as an observed change.
package mirror

import (
	"errors"
	"fmt"

	"github.com/maxpert/credmirror/record"
)

// ErrMalformedNotification marks a notification that cannot be classified.
var ErrMalformedNotification = errors.New("malformed change notification")

// Op is the classified operation of a change.
type Op uint8

const (
	OpAdded Op = iota + 1
	OpModified
	OpRemoved
	OpObserved
)

func (o Op) String() string {
	switch o {
	case OpAdded:
		return "added"
	case OpModified:
		return "modified"
	case OpRemoved:
		return "removed"
	case OpObserved:
		return "observed"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Change is a record store event reduced to what reconciliation needs.
// For OpModified, Record is the new version.
type Change struct {
	Op     Op
	Record record.Record
}

// Classify turns a raw notification into a Change.
func Classify(n record.Notification) (Change, error) {
	if n.Topic != record.ChangeTopic {
		return Change{}, fmt.Errorf("%w: unexpected topic %q", ErrMalformedNotification, n.Topic)
	}

	var (
		c  Change
		ok bool
	)
	switch n.Tag {
	case record.TagAdded:
		c.Op = OpAdded
		c.Record, ok = n.Subject.(record.Record)
	case record.TagRemoved:
		c.Op = OpRemoved
		c.Record, ok = n.Subject.(record.Record)
	case record.TagObservedFull:
		c.Op = OpObserved
		c.Record, ok = n.Subject.(record.Record)
	case record.TagModified:
		var pair record.Pair
		pair, ok = n.Subject.(record.Pair)
		c.Op = OpModified
		c.Record = pair.New
	default:
		return Change{}, fmt.Errorf("%w: unknown tag %q", ErrMalformedNotification, n.Tag)
	}

	if !ok {
		return Change{}, fmt.Errorf("%w: tag %q with subject %T", ErrMalformedNotification, n.Tag, n.Subject)
	}
	if err := c.Record.Validate(); err != nil {
		return Change{}, fmt.Errorf("%w: %w", ErrMalformedNotification, err)
	}
	return c, nil
}
