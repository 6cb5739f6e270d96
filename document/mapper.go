package document

import (
	"github.com/maxpert/credmirror/id"
	"github.com/maxpert/credmirror/record"
)

// FromRecord converts r into a document addressed by its derived id.
// The result never carries a revision.
func FromRecord(r record.Record) Document {
	doc := Document{
		ID:        id.Derive(r),
		Origin:    r.Origin,
		Principal: r.Principal,
		Secret:    r.Secret,
	}

	if r.Kind() == record.KindForm {
		doc.FormTarget = r.FormTarget
		doc.PrincipalField = r.PrincipalField
		doc.SecretField = r.SecretField
	} else {
		doc.Realm = r.Realm
	}

	return doc
}

// ToRecord rebuilds the record a document mirrors. Documents with a form
// target become form records using the stored field names; everything else
// becomes a realm record with empty field names.
func ToRecord(d Document) record.Record {
	if d.IsForm() {
		return record.NewForm(d.Origin, d.FormTarget, d.Principal, d.Secret, d.PrincipalField, d.SecretField)
	}
	return record.NewHTTP(d.Origin, d.Realm, d.Principal, d.Secret)
}

// Equivalent reports whether the record mirrored by d matches r under the
// record store's equivalence.
func Equivalent(d Document, r record.Record) bool {
	return record.Matches(ToRecord(d), r)
}
