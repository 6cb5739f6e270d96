package id

import (
	"testing"

	"github.com/maxpert/credmirror/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive_HTTPRecord(t *testing.T) {
	rec := record.NewHTTP("www.foo.com", "www.foo.com", "foo", "bar")
	assert.Equal(t, "www.foo.com|http|www.foo.com", Derive(rec))
}

func TestDerive_FormRecord(t *testing.T) {
	rec := record.NewForm("https://a.com", "https://a.com/login", "u", "p", "user", "pass")
	assert.Equal(t, "https://a.com|form|https://a.com/login", Derive(rec))
}

func TestDerive_IgnoresMutableFields(t *testing.T) {
	a := record.NewHTTP("www.foo.com", "realm", "foo", "bar")
	b := record.NewHTTP("www.foo.com", "realm", "someone-else", "changed")
	assert.Equal(t, Derive(a), Derive(b))

	c := record.NewForm("o", "t", "u", "p", "f1", "f2")
	d := record.NewForm("o", "t", "u", "p", "g1", "g2")
	assert.Equal(t, Derive(c), Derive(d))
}

func TestDerive_KindSeparatesSameValue(t *testing.T) {
	form := record.NewForm("o", "same", "u", "p", "", "")
	http := record.NewHTTP("o", "same", "u", "p")
	assert.NotEqual(t, Derive(form), Derive(http))
}

func TestDerive_Stable(t *testing.T) {
	rec := record.NewHTTP("www.foo.com", "www.foo.com", "foo", "bar")
	first := Derive(rec)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Derive(rec))
	}
}

func TestParse(t *testing.T) {
	origin, kind, value, err := Parse("www.foo.com|http|www.foo.com")
	require.NoError(t, err)
	assert.Equal(t, "www.foo.com", origin)
	assert.Equal(t, record.KindHTTP, kind)
	assert.Equal(t, "www.foo.com", value)

	_, _, value, err = Parse("o|form|a|b")
	require.NoError(t, err)
	assert.Equal(t, "a|b", value)

	_, _, _, err = Parse("no-separators")
	assert.Error(t, err)

	_, _, _, err = Parse("o|ftp|x")
	assert.Error(t, err)
}
