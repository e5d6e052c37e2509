package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "jane.doe@acme.com", NormalizeEmail("  Jane.Doe@ACME.com "))
	assert.Empty(t, NormalizeEmail(""))
}

func TestEmailDomain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "acme.com", EmailDomain("Jane@Acme.com"))
	assert.Empty(t, EmailDomain("not-an-email"))
	assert.Empty(t, EmailDomain("trailing@"))
}

func TestCanonicalProfileURL(t *testing.T) {
	t.Parallel()

	want := "linkedin.com/in/janedoe"
	assert.Equal(t, want, CanonicalProfileURL("https://www.linkedin.com/in/janedoe/"))
	assert.Equal(t, want, CanonicalProfileURL("http://linkedin.com/in/JaneDoe"))
	assert.Equal(t, want, CanonicalProfileURL("linkedin.com/in/janedoe?trk=feed"))
	assert.Empty(t, CanonicalProfileURL(""))
}

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "acme.com", NormalizeDomain("https://www.Acme.com/"))
	assert.Equal(t, "acme.com", NormalizeDomain("ACME.COM"))
	assert.Equal(t, "acme.com", NormalizeDomain("www.acme.com/about"))
	assert.Empty(t, NormalizeDomain(""))
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NormalizeName("García, José"), NormalizeName("jose garcia"))
	assert.Equal(t, "doe jane", NormalizeName("Jane Doe"))
	assert.Equal(t, "doe jane", NormalizeName("Doe, Jane"))
}

func TestEmployerKey(t *testing.T) {
	t.Parallel()

	// Domain wins over name.
	assert.Equal(t, "acme.com", EmployerKey("www.acme.com", "Totally Different Inc"))

	// Legal suffixes dropped so name variants collide.
	assert.Equal(t, EmployerKey("", "Acme Corp."), EmployerKey("", "Acme, Inc"))
	assert.Equal(t, "acme", EmployerKey("", "Acme Corporation"))
	assert.Empty(t, EmployerKey("", ""))
}

func TestNameSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, NameSimilarity("Jane Doe", "doe, JANE"), 1e-9)
	assert.Zero(t, NameSimilarity("", "Jane Doe"))
	assert.Greater(t, NameSimilarity("Jane Doe", "Jane Does"), 0.8)
	assert.Less(t, NameSimilarity("Jane Doe", "Robert Paulson"), 0.5)
}

func TestTokenJaccard(t *testing.T) {
	t.Parallel()

	// Middle name on one side only: 2 shared tokens of 3 total.
	assert.InDelta(t, 2.0/3.0, TokenJaccard("Jane Doe", "Jane Marie Doe"), 1e-9)
	assert.InDelta(t, 1.0, TokenJaccard("Jane Doe", "Doe Jane"), 1e-9)
	assert.Zero(t, TokenJaccard("", "Jane"))
}
