package replica

import (
	"testing"

	"github.com/maxpert/credmirror/encoding"
	"github.com/maxpert/credmirror/publisher"
	"github.com/maxpert/credmirror/publisher/transformer"
	"github.com/maxpert/credmirror/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := encoding.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDecodeBatch(t *testing.T) {
	foo := docFor(record.NewHTTP("www.foo.com", "www.foo.com", "foo", "bar"))

	payloads := [][]byte{
		mustMarshal(t, map[string]interface{}{"id": foo.ID, "rev": "1-a", "doc": foo, "node": 2, "seq": 10}),
		nil,
		[]byte("not msgpack"),
		mustMarshal(t, map[string]interface{}{"id": "x|http|x", "rev": "2-b", "deleted": true, "node": 1}),
		mustMarshal(t, map[string]interface{}{"id": "y|http|y", "deleted": true}),
	}

	changes := decodeBatch(payloads, 1)
	require.Len(t, changes, 2)

	assert.Equal(t, foo.ID, changes[0].ID)
	assert.Equal(t, "1-a", changes[0].Rev)
	require.NotNil(t, changes[0].Doc)
	assert.Equal(t, *foo, *changes[0].Doc)
	assert.False(t, changes[0].Deleted)

	assert.Equal(t, "y|http|y", changes[1].ID)
	assert.True(t, changes[1].Deleted)
}

func TestSourceStateString(t *testing.T) {
	assert.Equal(t, "STREAMING", StateStreaming.String())
	assert.Equal(t, "UNKNOWN", SourceState(42).String())
}

func TestNewNatsSource_Validates(t *testing.T) {
	_, err := NewNatsSource(SourceConfig{Subject: "s"}, nil)
	assert.Error(t, err)
	_, err = NewNatsSource(SourceConfig{URL: "nats://127.0.0.1:4222"}, nil)
	assert.Error(t, err)
}

func TestDecodeBatch_PublishedEnvelopes(t *testing.T) {
	foo := docFor(record.NewForm("www.foo.com", "www.foo.com", "foo", "bar", "u", "p"))
	foo.Rev = "3-00000000000000aa"

	event := publisher.NewDocEvent(publisher.OpUpdate, *foo, 2)
	event.SeqNum = 5
	removed := publisher.NewDocEvent(publisher.OpDelete, *foo, 2)

	msgpackData, err := (&transformer.MsgpackTransformer{}).Transform(event)
	require.NoError(t, err)
	jsonData, err := (&transformer.JSONTransformer{}).Transform(removed)
	require.NoError(t, err)

	changes := decodeBatch([][]byte{msgpackData, jsonData}, 1)
	require.Len(t, changes, 2)

	assert.Equal(t, foo.ID, changes[0].ID)
	assert.Equal(t, foo.Rev, changes[0].Rev)
	require.NotNil(t, changes[0].Doc)
	assert.Equal(t, *foo, *changes[0].Doc)

	assert.Equal(t, foo.ID, changes[1].ID)
	assert.True(t, changes[1].Deleted)
	assert.Nil(t, changes[1].Doc)

	// Own events are ignored
	assert.Empty(t, decodeBatch([][]byte{msgpackData, jsonData}, 2))
}
