// Package id derives the stable document identifier that joins a record to
// its mirrored document.
package id

import (
	"fmt"
	"strings"

	"github.com/maxpert/credmirror/record"
)

// Separator joins the parts of a derived id.
const Separator = "|"

// Derive returns origin|kind|discriminator for r.
// The id depends only on durable fields; principal and secret never take part,
// so two records sharing origin and discriminator share a document.
func Derive(r record.Record) string {
	return r.Origin + Separator + string(r.Kind()) + Separator + r.Discriminator()
}

// Parse splits a derived id back into origin, kind and discriminator value.
// The discriminator may itself contain the separator.
func Parse(docID string) (origin string, kind record.Kind, value string, err error) {
	parts := strings.SplitN(docID, Separator, 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("invalid document id %q", docID)
	}

	kind = record.Kind(parts[1])
	if kind != record.KindForm && kind != record.KindHTTP {
		return "", "", "", fmt.Errorf("invalid kind %q in document id %q", parts[1], docID)
	}

	return parts[0], kind, parts[2], nil
}
