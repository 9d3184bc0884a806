package ir

import "github.com/picklr-io/converge/internal/directory"

// KeyPairSpec is an SSH public key registered under a name.
type KeyPairSpec struct {
	Name      directory.KeyName `yaml:"name"`
	PublicKey string            `yaml:"publicKey"`
}

// PortRule opens one port to the world.
type PortRule struct {
	Protocol    string `yaml:"protocol"`
	Port        int32  `yaml:"port"`
	Description string `yaml:"description"`
}

// SecurityGroupSpec is a firewall group. Ingress is only applied when the
// group is created; an existing group is trusted as-is.
type SecurityGroupSpec struct {
	Name        directory.GroupName `yaml:"name"`
	Description string              `yaml:"description"`
	Ingress     []PortRule          `yaml:"ingress"`
}

// InstanceSpec is a virtual machine keyed by its Name tag.
type InstanceSpec struct {
	Name           directory.NameTag     `yaml:"name"`
	InstanceType   string                `yaml:"instanceType"`
	Image          string                `yaml:"image"`
	KeyPair        directory.KeyName     `yaml:"keyPair"`
	SecurityGroups []directory.GroupName `yaml:"securityGroups"`
}

// PlaybookSpec is a configuration bundle applied to one instance once it
// is reachable.
type PlaybookSpec struct {
	Host   directory.NameTag `yaml:"host"`
	Bundle string            `yaml:"bundle"`
	Vars   map[string]string `yaml:"vars"`
}

// RecordSpec is an address record pointing at an instance.
type RecordSpec struct {
	Name   directory.DomainName `yaml:"name"`
	Target directory.NameTag    `yaml:"target"`
}
