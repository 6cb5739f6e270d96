// Package document holds the mirrored representation of a record in the
// versioned document store and the mapping between the two shapes.
package document

// Document is the mirrored form of a record. ID is the derived id and Rev the
// opaque revision token assigned by the document store; Rev is empty until the
// document has been written once.
//
// Form documents carry FormTarget and the field names; realm documents carry
// Realm only. Which of the two is present is the discriminator.
type Document struct {
	ID             string `json:"_id" msgpack:"_id"`
	Rev            string `json:"_rev,omitempty" msgpack:"_rev,omitempty"`
	Origin         string `json:"origin" msgpack:"origin"`
	Principal      string `json:"principal" msgpack:"principal"`
	Secret         string `json:"secret" msgpack:"secret"`
	FormTarget     string `json:"formTarget,omitempty" msgpack:"formTarget,omitempty"`
	PrincipalField string `json:"principalField,omitempty" msgpack:"principalField,omitempty"`
	SecretField    string `json:"secretField,omitempty" msgpack:"secretField,omitempty"`
	Realm          string `json:"realm,omitempty" msgpack:"realm,omitempty"`
}

// IsForm reports whether the document mirrors a form record.
func (d Document) IsForm() bool {
	return d.FormTarget != ""
}

// WithRev returns a copy of d carrying rev.
func (d Document) WithRev(rev string) Document {
	d.Rev = rev
	return d
}
