package transformer

import "github.com/maxpert/credmirror/publisher"

// Compile-time interface verification
var (
	_ publisher.Transformer = (*MsgpackTransformer)(nil)
	_ publisher.Transformer = (*JSONTransformer)(nil)
)
