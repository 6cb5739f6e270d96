package transformer

import (
	"fmt"

	"github.com/maxpert/credmirror/encoding"
	"github.com/maxpert/credmirror/publisher"
)

func init() {
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer {
		return &MsgpackTransformer{}
	})
}

// MsgpackTransformer encodes events as msgpack envelopes, the format
// inbound sources consume
type MsgpackTransformer struct{}

// Transform encodes the event envelope
func (m *MsgpackTransformer) Transform(event publisher.DocEvent) ([]byte, error) {
	env := NewEnvelope(event)
	data, err := encoding.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", event.ID, err)
	}
	return data, nil
}

// Tombstone returns nil; empty payloads are skipped by consumers
func (m *MsgpackTransformer) Tombstone(key string) []byte {
	return nil
}
