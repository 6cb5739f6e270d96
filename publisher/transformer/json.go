package transformer

import (
	"encoding/json"
	"fmt"

	"github.com/maxpert/credmirror/publisher"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return &JSONTransformer{}
	})
}

// JSONTransformer encodes events as JSON envelopes for consumers outside
// credmirror, such as Kafka Connect pipelines
type JSONTransformer struct{}

// Transform encodes the event envelope
func (j *JSONTransformer) Transform(event publisher.DocEvent) ([]byte, error) {
	data, err := json.Marshal(NewEnvelope(event))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", event.ID, err)
	}
	return data, nil
}

// Tombstone creates a tombstone marker (null value for Kafka log compaction)
func (j *JSONTransformer) Tombstone(key string) []byte {
	return nil
}
