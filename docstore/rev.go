package docstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/credmirror/document"
)

// NextRev computes the revision that follows prev for doc's content. A
// revision has the form "<generation>-<content hash>"; the first write is
// generation 1.
func NextRev(prev string, doc document.Document) string {
	return fmt.Sprintf("%d-%016x", Generation(prev)+1, contentHash(doc))
}

// Generation returns the numeric generation of rev, or 0 when rev is empty
// or unparseable.
func Generation(rev string) uint64 {
	head, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	gen, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0
	}
	return gen
}

func contentHash(doc document.Document) uint64 {
	h := xxhash.New()
	for _, field := range []string{
		doc.ID, doc.Origin, doc.Principal, doc.Secret,
		doc.FormTarget, doc.PrincipalField, doc.SecretField, doc.Realm,
	} {
		h.WriteString(field)
		h.Write([]byte{0})
	}
	return h.Sum64()
}
