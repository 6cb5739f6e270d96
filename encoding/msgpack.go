// Package encoding provides centralized serialization for documents, publish
// log events and replication batches. All msgpack operations go through this
// package so every store decodes the same way.
//
// Thread Safety: Marshal, Unmarshal, Compress and Decompress are safe for
// concurrent use.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type encoderPoolEntry struct {
	buf *bytes.Buffer
	enc *msgpack.Encoder
}

// Pooled encoders, each writing into its own buffer
var encoderPool = sync.Pool{
	New: func() interface{} {
		buf := &bytes.Buffer{}
		return &encoderPoolEntry{buf: buf, enc: msgpack.NewEncoder(buf)}
	},
}

// Marshal encodes a value to msgpack using a pooled encoder. The returned
// slice is owned by the caller.
func Marshal(v interface{}) ([]byte, error) {
	entry := encoderPool.Get().(*encoderPoolEntry)
	defer encoderPool.Put(entry)
	entry.buf.Reset()

	if err := entry.enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.Clone(entry.buf.Bytes()), nil
}

// Unmarshal decodes msgpack data using loose interface decoding, so strings
// decoded into interface{} stay Go strings.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
