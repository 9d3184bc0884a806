package ir

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/picklr-io/converge/internal/directory"
)

// AmazonLinux2023ARM is the image every default instance boots from.
const AmazonLinux2023ARM = "ami-02dcfe5d1d39baa4e"

// Topology is the complete set of resources one run converges.
type Topology struct {
	Domain         directory.DomainName `yaml:"domain"`
	KeyPairs       []KeyPairSpec        `yaml:"keyPairs"`
	SecurityGroups []SecurityGroupSpec  `yaml:"securityGroups"`
	Instances      []InstanceSpec       `yaml:"instances"`
	Playbooks      []PlaybookSpec       `yaml:"playbooks"`
	Records        []RecordSpec         `yaml:"records"`
}

// Params are the operator-supplied values the default topology needs.
type Params struct {
	Domain       string
	RootUsername string
	RootEmail    string
	RootPassword string
	SSHPublicKey string
}

// DefaultTopology returns the deployment: a root keypair, ssh and web
// groups, the lsd and drive hosts, drive's playbook, and three records.
func DefaultTopology(p Params) *Topology {
	domain := directory.DomainName(strings.TrimRight(p.Domain, "."))
	groups := []directory.GroupName{"ssh", "web"}

	return &Topology{
		Domain: domain,
		KeyPairs: []KeyPairSpec{
			{Name: "root", PublicKey: p.SSHPublicKey},
		},
		SecurityGroups: []SecurityGroupSpec{
			{Name: "ssh", Description: "ssh", Ingress: []PortRule{
				{Protocol: "tcp", Port: 22, Description: "SSH"},
			}},
			{Name: "web", Description: "web", Ingress: []PortRule{
				{Protocol: "tcp", Port: 80, Description: "HTTP"},
				{Protocol: "tcp", Port: 443, Description: "HTTPS"},
			}},
		},
		Instances: []InstanceSpec{
			// lsd is deployed by its own CI; it only needs to exist.
			{Name: "lsd", InstanceType: "t4g.nano", Image: AmazonLinux2023ARM, KeyPair: "root", SecurityGroups: groups},
			{Name: "drive", InstanceType: "t4g.micro", Image: AmazonLinux2023ARM, KeyPair: "root", SecurityGroups: groups},
		},
		Playbooks: []PlaybookSpec{
			{Host: "drive", Bundle: "drive/ansible.yaml", Vars: map[string]string{
				"domain":        string(domain),
				"root_username": p.RootUsername,
				"root_email":    p.RootEmail,
				"root_password": p.RootPassword,
			}},
		},
		Records: []RecordSpec{
			{Name: domain.Sub("beta"), Target: "lsd"},
			{Name: domain.Sub("docs"), Target: "drive"},
			{Name: domain.Sub("sheets"), Target: "drive"},
		},
	}
}

// Validate checks that names are unique and that every reference points at
// something declared earlier in the pipeline.
func (t *Topology) Validate() error {
	var errs []error

	if t.Domain == "" && len(t.Records) > 0 {
		errs = append(errs, errors.New("records declared without a domain"))
	}

	keys := make(map[directory.KeyName]bool)
	for _, k := range t.KeyPairs {
		if k.Name == "" {
			errs = append(errs, errors.New("keypair with empty name"))
			continue
		}
		if keys[k.Name] {
			errs = append(errs, fmt.Errorf("duplicate keypair %q", k.Name))
		}
		if strings.TrimSpace(k.PublicKey) == "" {
			errs = append(errs, fmt.Errorf("keypair %q has no public key", k.Name))
		}
		keys[k.Name] = true
	}

	groups := make(map[directory.GroupName]bool)
	for _, g := range t.SecurityGroups {
		if g.Name == "" {
			errs = append(errs, errors.New("security group with empty name"))
			continue
		}
		if groups[g.Name] {
			errs = append(errs, fmt.Errorf("duplicate security group %q", g.Name))
		}
		groups[g.Name] = true
	}

	instances := make(map[directory.NameTag]bool)
	for _, i := range t.Instances {
		if i.Name == "" {
			errs = append(errs, errors.New("instance with empty name"))
			continue
		}
		if instances[i.Name] {
			errs = append(errs, fmt.Errorf("duplicate instance %q", i.Name))
		}
		instances[i.Name] = true
		if !keys[i.KeyPair] {
			errs = append(errs, fmt.Errorf("instance %q references unknown keypair %q", i.Name, i.KeyPair))
		}
		for _, g := range i.SecurityGroups {
			if !groups[g] {
				errs = append(errs, fmt.Errorf("instance %q references unknown security group %q", i.Name, g))
			}
		}
	}

	for _, p := range t.Playbooks {
		if !instances[p.Host] {
			errs = append(errs, fmt.Errorf("playbook %q targets unknown instance %q", p.Bundle, p.Host))
		}
		if p.Bundle == "" {
			errs = append(errs, fmt.Errorf("playbook for %q has no bundle", p.Host))
		}
	}

	records := make(map[string]bool)
	for _, r := range t.Records {
		if !instances[r.Target] {
			errs = append(errs, fmt.Errorf("record %q targets unknown instance %q", r.Name, r.Target))
		}
		if records[r.Name.FQDN()] {
			errs = append(errs, fmt.Errorf("duplicate record %q", r.Name))
		}
		records[r.Name.FQDN()] = true
	}

	return errors.Join(errs...)
}

// Redacted returns a copy safe to print: secrets in playbook vars are
// masked and public keys shortened.
func (t *Topology) Redacted() *Topology {
	out := *t
	out.KeyPairs = make([]KeyPairSpec, len(t.KeyPairs))
	for i, k := range t.KeyPairs {
		k.PublicKey = abbreviate(k.PublicKey)
		out.KeyPairs[i] = k
	}
	out.Playbooks = make([]PlaybookSpec, len(t.Playbooks))
	for i, p := range t.Playbooks {
		vars := maps.Clone(p.Vars)
		for k := range vars {
			if isSecret(k) {
				vars[k] = "********"
			}
		}
		p.Vars = vars
		out.Playbooks[i] = p
	}
	return &out
}

func isSecret(key string) bool {
	key = strings.ToLower(key)
	return strings.Contains(key, "password") || strings.Contains(key, "secret") || strings.Contains(key, "token")
}

func abbreviate(s string) string {
	const keep = 24
	if len(s) <= keep {
		return s
	}
	return s[:keep] + "..."
}
