// Package identity matches freshly enriched entities against the
// existing store using a tiered key strategy, so re-enrichment updates
// records instead of duplicating them.
package identity

import (
	"net/url"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// companySuffixes are legal-form tokens dropped when building an
// employer key, so "Acme Corp." and "Acme, Inc" collide.
var companySuffixes = map[string]bool{
	"inc": true, "incorporated": true, "llc": true, "llp": true,
	"ltd": true, "limited": true, "corp": true, "corporation": true,
	"co": true, "company": true, "group": true, "holdings": true,
	"gmbh": true, "plc": true, "sa": true,
}

// NormalizeEmail lowercases and trims an email address. The domain part
// is what makes it an exact key; case never distinguishes two addresses.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the lowercased domain of an email, or "".
func EmailDomain(email string) string {
	email = NormalizeEmail(email)
	if i := strings.LastIndexByte(email, '@'); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return ""
}

// CanonicalProfileURL normalizes a profile URL for exact-key matching:
// lowercased host without "www.", query and fragment stripped, trailing
// slash stripped. Returns "" for unparseable input.
func CanonicalProfileURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(strings.TrimPrefix(u.Host, "www."))
	path := strings.TrimRight(u.Path, "/")
	return host + strings.ToLower(path)
}

// NormalizeDomain lowercases a domain and strips scheme, "www." and any
// path, so caller-supplied "https://www.Acme.com/" keys the same as
// "acme.com".
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if strings.Contains(domain, "://") {
		if u, err := url.Parse(domain); err == nil && u.Host != "" {
			domain = u.Host
		}
	}
	domain = strings.TrimPrefix(domain, "www.")
	if i := strings.IndexByte(domain, '/'); i >= 0 {
		domain = domain[:i]
	}
	return domain
}

// NormalizeName lowercases, strips accents and punctuation, and
// token-sorts a personal or company name. "García, José" and "jose
// garcia" normalize identically.
func NormalizeName(name string) string {
	stripped, _, err := transform.String(accentStripper, name)
	if err != nil {
		stripped = name
	}

	var b strings.Builder
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// EmployerKey derives the key used by the strong-fuzzy tier to require a
// shared employer: company domain when known, otherwise the normalized
// company name with legal suffixes removed.
func EmployerKey(domain, companyName string) string {
	if d := NormalizeDomain(domain); d != "" {
		return d
	}
	tokens := strings.Fields(NormalizeName(companyName))
	kept := tokens[:0]
	for _, t := range tokens {
		if !companySuffixes[t] {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}
