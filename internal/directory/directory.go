// Package directory defines the resource directory: the cloud control plane
// as seen by the reconcilers. Each resource kind can be listed and created;
// nothing is cached, every call goes to the provider.
package directory

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is wrapped by providers when a bounded wait expires.
var ErrWaitTimeout = errors.New("wait timed out")

// Directory is the full capability a provisioning run needs.
type Directory interface {
	KeyPairs
	SecurityGroups
	Instances
	Zones
	Records
}

// KeyPairs lists and imports SSH keypairs.
type KeyPairs interface {
	ListKeyPairs(ctx context.Context) ([]KeyPair, error)
	ImportKeyPair(ctx context.Context, name KeyName, publicKey []byte) (*KeyPair, error)
}

// SecurityGroups lists and creates firewall groups.
type SecurityGroups interface {
	ListSecurityGroups(ctx context.Context) ([]SecurityGroup, error)
	CreateSecurityGroup(ctx context.Context, name GroupName, description string) (*SecurityGroup, error)
	AuthorizeIngress(ctx context.Context, groupID string, rule IngressRule) error
}

// Instances lists, launches and describes virtual machines.
type Instances interface {
	ListInstances(ctx context.Context) ([]Instance, error)
	RunInstance(ctx context.Context, in RunInput) (*Instance, error)
	// WaitUntilRunning blocks until the instance reports running. It wraps
	// ErrWaitTimeout when timeout elapses first.
	WaitUntilRunning(ctx context.Context, id string, timeout time.Duration) error
	DescribeInstance(ctx context.Context, id string) (*Instance, error)
}

// Zones lists and creates hosted DNS zones.
type Zones interface {
	ListZonesByName(ctx context.Context, domain DomainName) ([]Zone, error)
	CreateZone(ctx context.Context, domain DomainName, callerRef string) (*Zone, error)
}

// Records writes DNS records. Upserts are idempotent on the provider side.
type Records interface {
	UpsertRecord(ctx context.Context, zoneID string, rec Record) error
}

// KeyPair is an imported public key.
type KeyPair struct {
	Name KeyName
	ID   string
	Raw  any
}

// SecurityGroup is a named set of ingress rules.
type SecurityGroup struct {
	Name GroupName
	ID   string
	Raw  any
}

// IngressRule opens a single port to a CIDR range.
type IngressRule struct {
	Protocol    string
	Port        int32
	CIDR        string
	Description string
}

// InstanceState is the provider lifecycle state of an instance.
type InstanceState string

const (
	StatePending      InstanceState = "pending"
	StateRunning      InstanceState = "running"
	StateStopping     InstanceState = "stopping"
	StateStopped      InstanceState = "stopped"
	StateShuttingDown InstanceState = "shutting-down"
	StateTerminated   InstanceState = "terminated"
)

// Gone reports whether the instance can never be running again.
func (s InstanceState) Gone() bool {
	return s == StateTerminated || s == StateShuttingDown
}

// Instance is a virtual machine identified by its Name tag.
type Instance struct {
	ID            string
	Name          NameTag
	State         InstanceState
	PublicAddress string
	Raw           any
}

// Storage describes the root volume attached at launch.
type Storage struct {
	DeviceName string
	SizeGiB    int32
	VolumeType string
	Encrypted  bool
}

// RunInput is everything needed to launch one instance.
type RunInput struct {
	Name             NameTag
	Image            string
	InstanceType     string
	KeyName          KeyName
	SecurityGroupIDs []string
	Storage          Storage
}

// Zone is a hosted DNS zone.
type Zone struct {
	Name DomainName
	ID   string
	Raw  any
}

// Record is a single-value DNS record.
type Record struct {
	Name  DomainName
	Type  string
	TTL   int64
	Value string
}
