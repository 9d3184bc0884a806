package directory

import "strings"

// KeyName identifies a keypair.
type KeyName string

// GroupName identifies a security group.
type GroupName string

// NameTag identifies an instance through its "Name" tag.
type NameTag string

// DomainName identifies a zone or a record. Comparisons go through FQDN so
// that "example.com" and "Example.com." name the same thing.
type DomainName string

// FQDN returns the lower-cased name with exactly one trailing dot.
func (d DomainName) FQDN() string {
	s := strings.ToLower(strings.TrimSpace(string(d)))
	s = strings.TrimRight(s, ".")
	return s + "."
}

// Equal compares two names in canonical form.
func (d DomainName) Equal(other DomainName) bool {
	return d.FQDN() == other.FQDN()
}

// Sub returns label.d, e.g. DomainName("example.com").Sub("beta").
func (d DomainName) Sub(label string) DomainName {
	return DomainName(label + "." + strings.TrimRight(string(d), "."))
}

func (d DomainName) String() string { return string(d) }
