// Package null is an in-memory resource directory. It behaves like a small,
// strict cloud: launches need an existing keypair and groups, records need
// an existing zone. Rehearsal runs and tests use it; nothing survives the
// process.
package null

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/picklr-io/converge/internal/directory"
)

// Directory operation names, as recorded in the call log.
const (
	OpListKeyPairs        = "ListKeyPairs"
	OpImportKeyPair       = "ImportKeyPair"
	OpListSecurityGroups  = "ListSecurityGroups"
	OpCreateSecurityGroup = "CreateSecurityGroup"
	OpAuthorizeIngress    = "AuthorizeIngress"
	OpListInstances       = "ListInstances"
	OpRunInstance         = "RunInstance"
	OpWaitUntilRunning    = "WaitUntilRunning"
	OpDescribeInstance    = "DescribeInstance"
	OpListZonesByName     = "ListZonesByName"
	OpCreateZone          = "CreateZone"
	OpUpsertRecord        = "UpsertRecord"
)

var mutating = map[string]bool{
	OpImportKeyPair:       true,
	OpCreateSecurityGroup: true,
	OpAuthorizeIngress:    true,
	OpRunInstance:         true,
	OpCreateZone:          true,
	OpUpsertRecord:        true,
}

// Call is one recorded directory call.
type Call struct {
	Op     string
	Target string
}

// Provider is the in-memory directory. The zero value is not usable; call New.
type Provider struct {
	mu  sync.Mutex
	seq int

	keyPairs  []directory.KeyPair
	groups    []directory.SecurityGroup
	rules     map[string][]directory.IngressRule
	instances []directory.Instance
	zones     []directory.Zone
	records   map[string]map[string]directory.Record

	calls    []Call
	failures map[string]error

	// NoPublicAddress launches instances without public addressing.
	NoPublicAddress bool
	// StallLaunch keeps new instances pending forever.
	StallLaunch bool
	// OmitIDs makes create calls answer without identifiers.
	OmitIDs bool
}

var _ directory.Directory = (*Provider)(nil)

func New() *Provider {
	return &Provider{
		rules:    make(map[string][]directory.IngressRule),
		records:  make(map[string]map[string]directory.Record),
		failures: make(map[string]error),
	}
}

// FailOn makes every later call to op return err.
func (p *Provider) FailOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = err
}

// Calls returns the ordered call log.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// CountCalls returns how many times op was called.
func (p *Provider) CountCalls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Mutations returns how many mutating calls were made.
func (p *Provider) Mutations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if mutating[c.Op] {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log, keeping all resources.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// record logs a call and returns the injected failure for op, if any.
// Callers must hold p.mu.
func (p *Provider) record(op, target string) error {
	p.calls = append(p.calls, Call{Op: op, Target: target})
	return p.failures[op]
}

func (p *Provider) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s-%08d", prefix, p.seq)
}

// AddKeyPair seeds an existing keypair.
func (p *Provider) AddKeyPair(name directory.KeyName) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keyPairs = append(p.keyPairs, directory.KeyPair{Name: name, ID: p.nextID("key")})
}

// AddSecurityGroup seeds an existing group with rules and returns its id.
func (p *Provider) AddSecurityGroup(name directory.GroupName, rules ...directory.IngressRule) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID("sg")
	p.groups = append(p.groups, directory.SecurityGroup{Name: name, ID: id})
	p.rules[id] = append(p.rules[id], rules...)
	return id
}

// AddInstance seeds an existing instance and returns its id.
func (p *Provider) AddInstance(inst directory.Instance) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inst.ID == "" {
		inst.ID = p.nextID("i")
	}
	if inst.State == "" {
		inst.State = directory.StateRunning
	}
	inst.Raw = snapshot(inst)
	p.instances = append(p.instances, inst)
	return inst.ID
}

// AddZone seeds an existing hosted zone and returns its id.
func (p *Provider) AddZone(name directory.DomainName) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := "/hostedzone/" + p.nextID("Z")
	p.zones = append(p.zones, directory.Zone{Name: directory.DomainName(name.FQDN()), ID: id})
	p.records[id] = make(map[string]directory.Record)
	return id
}

// Rules returns the ingress rules of a group.
func (p *Provider) Rules(groupID string) []directory.IngressRule {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.rules[groupID])
}

// Instances returns every instance, in launch order.
func (p *Provider) Instances() []directory.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.instances)
}

// Zones returns every hosted zone.
func (p *Provider) Zones() []directory.Zone {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.zones)
}

// Records returns the records of a zone sorted by name.
func (p *Provider) Records(zoneID string) []directory.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]directory.Record, 0, len(p.records[zoneID]))
	for _, r := range p.records[zoneID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (p *Provider) ListKeyPairs(ctx context.Context) ([]directory.KeyPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpListKeyPairs, ""); err != nil {
		return nil, err
	}
	return slices.Clone(p.keyPairs), nil
}

func (p *Provider) ImportKeyPair(ctx context.Context, name directory.KeyName, publicKey []byte) (*directory.KeyPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpImportKeyPair, string(name)); err != nil {
		return nil, err
	}
	if len(publicKey) == 0 {
		return nil, fmt.Errorf("InvalidKey.Format: empty public key for %q", name)
	}
	for _, k := range p.keyPairs {
		if k.Name == name {
			return nil, fmt.Errorf("InvalidKeyPair.Duplicate: the keypair %q already exists", name)
		}
	}
	kp := directory.KeyPair{Name: name, ID: p.nextID("key")}
	p.keyPairs = append(p.keyPairs, kp)
	if p.OmitIDs {
		return &directory.KeyPair{}, nil
	}
	return &kp, nil
}

func (p *Provider) ListSecurityGroups(ctx context.Context) ([]directory.SecurityGroup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpListSecurityGroups, ""); err != nil {
		return nil, err
	}
	return slices.Clone(p.groups), nil
}

func (p *Provider) CreateSecurityGroup(ctx context.Context, name directory.GroupName, description string) (*directory.SecurityGroup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpCreateSecurityGroup, string(name)); err != nil {
		return nil, err
	}
	for _, g := range p.groups {
		if g.Name == name {
			return nil, fmt.Errorf("InvalidGroup.Duplicate: the security group %q already exists", name)
		}
	}
	g := directory.SecurityGroup{Name: name, ID: p.nextID("sg")}
	p.groups = append(p.groups, g)
	if p.OmitIDs {
		return &directory.SecurityGroup{Name: name}, nil
	}
	return &g, nil
}

func (p *Provider) AuthorizeIngress(ctx context.Context, groupID string, rule directory.IngressRule) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpAuthorizeIngress, groupID); err != nil {
		return err
	}
	if !p.hasGroup(groupID) {
		return fmt.Errorf("InvalidGroup.NotFound: the security group %q does not exist", groupID)
	}
	for _, r := range p.rules[groupID] {
		if r.Protocol == rule.Protocol && r.Port == rule.Port && r.CIDR == rule.CIDR {
			return fmt.Errorf("InvalidPermission.Duplicate: %s/%d already authorized", rule.Protocol, rule.Port)
		}
	}
	p.rules[groupID] = append(p.rules[groupID], rule)
	return nil
}

func (p *Provider) hasGroup(id string) bool {
	for _, g := range p.groups {
		if g.ID == id {
			return true
		}
	}
	return false
}

func (p *Provider) ListInstances(ctx context.Context) ([]directory.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpListInstances, ""); err != nil {
		return nil, err
	}
	return slices.Clone(p.instances), nil
}

func (p *Provider) RunInstance(ctx context.Context, in directory.RunInput) (*directory.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpRunInstance, string(in.Name)); err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(p.keyPairs, func(k directory.KeyPair) bool { return k.Name == in.KeyName }) {
		return nil, fmt.Errorf("InvalidKeyPair.NotFound: the key pair %q does not exist", in.KeyName)
	}
	for _, id := range in.SecurityGroupIDs {
		if !p.hasGroup(id) {
			return nil, fmt.Errorf("InvalidGroup.NotFound: the security group %q does not exist", id)
		}
	}
	inst := directory.Instance{
		ID:    p.nextID("i"),
		Name:  in.Name,
		State: directory.StatePending,
	}
	inst.Raw = snapshot(inst)
	p.instances = append(p.instances, inst)
	if p.OmitIDs {
		return &directory.Instance{Name: in.Name, State: directory.StatePending}, nil
	}
	return &inst, nil
}

func (p *Provider) WaitUntilRunning(ctx context.Context, id string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpWaitUntilRunning, id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	i := p.instanceIndex(id)
	if i < 0 {
		return fmt.Errorf("InvalidInstanceID.NotFound: %q", id)
	}
	if p.StallLaunch {
		return fmt.Errorf("instance %s still %s after %s: %w", id, p.instances[i].State, timeout, directory.ErrWaitTimeout)
	}
	inst := &p.instances[i]
	inst.State = directory.StateRunning
	if !p.NoPublicAddress && inst.PublicAddress == "" {
		inst.PublicAddress = fmt.Sprintf("192.0.2.%d", 10+p.seq%240)
		p.seq++
	}
	inst.Raw = snapshot(*inst)
	return nil
}

func (p *Provider) DescribeInstance(ctx context.Context, id string) (*directory.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpDescribeInstance, id); err != nil {
		return nil, err
	}
	i := p.instanceIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("InvalidInstanceID.NotFound: %q", id)
	}
	inst := p.instances[i]
	return &inst, nil
}

func (p *Provider) instanceIndex(id string) int {
	return slices.IndexFunc(p.instances, func(i directory.Instance) bool { return i.ID == id })
}

// ListZonesByName returns zones ordered by name, starting at domain.
func (p *Provider) ListZonesByName(ctx context.Context, domain directory.DomainName) ([]directory.Zone, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpListZonesByName, domain.FQDN()); err != nil {
		return nil, err
	}
	var out []directory.Zone
	for _, z := range p.zones {
		if z.Name.FQDN() >= domain.FQDN() {
			out = append(out, z)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name.FQDN() < out[j].Name.FQDN() })
	return out, nil
}

func (p *Provider) CreateZone(ctx context.Context, domain directory.DomainName, callerRef string) (*directory.Zone, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpCreateZone, domain.FQDN()); err != nil {
		return nil, err
	}
	if callerRef == "" {
		return nil, fmt.Errorf("InvalidInput: caller reference is required")
	}
	z := directory.Zone{Name: directory.DomainName(domain.FQDN()), ID: "/hostedzone/" + p.nextID("Z")}
	p.zones = append(p.zones, z)
	p.records[z.ID] = make(map[string]directory.Record)
	if p.OmitIDs {
		return &directory.Zone{Name: z.Name}, nil
	}
	return &z, nil
}

func (p *Provider) UpsertRecord(ctx context.Context, zoneID string, rec directory.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpUpsertRecord, rec.Name.FQDN()); err != nil {
		return err
	}
	records, ok := p.records[zoneID]
	if !ok {
		return fmt.Errorf("NoSuchHostedZone: %q", zoneID)
	}
	rec.Name = directory.DomainName(rec.Name.FQDN())
	records[rec.Name.FQDN()+"/"+rec.Type] = rec
	return nil
}

func snapshot(i directory.Instance) map[string]string {
	return map[string]string{
		"InstanceId":      i.ID,
		"Name":            string(i.Name),
		"State":           string(i.State),
		"PublicIpAddress": i.PublicAddress,
	}
}
