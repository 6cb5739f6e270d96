// Package record defines the authoritative credential record and the change
// notifications the record store emits for it.
package record

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned when a record violates the form/realm discriminator invariant.
var ErrMalformed = errors.New("malformed record")

// Kind identifies which discriminator a record carries.
type Kind string

const (
	KindForm Kind = "form" // FormTarget is set
	KindHTTP Kind = "http" // Realm is set
)

// Record is a single credential held by the record store.
// Exactly one of FormTarget and Realm is set. PrincipalField and SecretField
// are only meaningful for form records.
type Record struct {
	Origin         string `json:"origin" msgpack:"origin"`
	FormTarget     string `json:"formTarget,omitempty" msgpack:"formTarget,omitempty"`
	Realm          string `json:"realm,omitempty" msgpack:"realm,omitempty"`
	Principal      string `json:"principal" msgpack:"principal"`
	Secret         string `json:"secret" msgpack:"secret"`
	PrincipalField string `json:"principalField,omitempty" msgpack:"principalField,omitempty"`
	SecretField    string `json:"secretField,omitempty" msgpack:"secretField,omitempty"`
}

// NewForm builds a form-based record.
func NewForm(origin, formTarget, principal, secret, principalField, secretField string) Record {
	return Record{
		Origin:         origin,
		FormTarget:     formTarget,
		Principal:      principal,
		Secret:         secret,
		PrincipalField: principalField,
		SecretField:    secretField,
	}
}

// NewHTTP builds a realm-based record. Realm records never carry field names.
func NewHTTP(origin, realm, principal, secret string) Record {
	return Record{
		Origin:    origin,
		Realm:     realm,
		Principal: principal,
		Secret:    secret,
	}
}

// Kind returns KindForm when FormTarget is set, KindHTTP otherwise.
func (r Record) Kind() Kind {
	if r.FormTarget != "" {
		return KindForm
	}
	return KindHTTP
}

// Discriminator returns FormTarget for form records and Realm for http records.
func (r Record) Discriminator() string {
	if r.Kind() == KindForm {
		return r.FormTarget
	}
	return r.Realm
}

// Validate checks the discriminator invariant.
func (r Record) Validate() error {
	if r.Origin == "" {
		return fmt.Errorf("%w: empty origin", ErrMalformed)
	}
	if r.FormTarget != "" && r.Realm != "" {
		return fmt.Errorf("%w: %s has both form target %q and realm %q", ErrMalformed, r.Origin, r.FormTarget, r.Realm)
	}
	if r.FormTarget == "" && r.Realm == "" {
		return fmt.Errorf("%w: %s has neither form target nor realm", ErrMalformed, r.Origin)
	}
	if r.Realm != "" && (r.PrincipalField != "" || r.SecretField != "") {
		return fmt.Errorf("%w: realm record for %s carries form field names", ErrMalformed, r.Origin)
	}
	return nil
}

// Key returns the lookup criteria identifying r's entity in the record store.
func (r Record) Key() Criteria {
	return Criteria{
		Origin:     r.Origin,
		FormTarget: r.FormTarget,
		Realm:      r.Realm,
	}
}

// Matches reports whether a and b are the same credential under the record
// store's equivalence: origin, discriminator, principal and secret must be
// equal, and form records must also agree on field names.
func Matches(a, b Record) bool {
	if a.Origin != b.Origin ||
		a.FormTarget != b.FormTarget ||
		a.Realm != b.Realm ||
		a.Principal != b.Principal ||
		a.Secret != b.Secret {
		return false
	}
	if a.Kind() == KindHTTP {
		return true
	}
	return a.PrincipalField == b.PrincipalField && a.SecretField == b.SecretField
}

// Criteria selects records by entity key. Origin is required; an empty
// FormTarget or Realm is not a wildcard, it must match exactly.
type Criteria struct {
	Origin     string
	FormTarget string
	Realm      string
}

// Match reports whether r falls under the criteria.
func (c Criteria) Match(r Record) bool {
	return r.Origin == c.Origin && r.FormTarget == c.FormTarget && r.Realm == c.Realm
}
