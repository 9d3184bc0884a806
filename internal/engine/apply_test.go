package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/picklr-io/converge/internal/configure"
	"github.com/picklr-io/converge/internal/directory"
	"github.com/picklr-io/converge/internal/ir"
	"github.com/picklr-io/converge/internal/readiness"
	"github.com/picklr-io/converge/internal/reconcile"
	"github.com/picklr-io/converge/providers/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal is an ordered log shared by the fake prober and runner.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeProber struct {
	log *journal
	err error
}

func (p *fakeProber) AwaitReachable(ctx context.Context, address string, port int, timeout time.Duration) error {
	p.log.add("probe " + address)
	return p.err
}

type fakeRunner struct {
	log *journal
	err error
}

func (r *fakeRunner) Apply(ctx context.Context, address string, pb ir.PlaybookSpec) error {
	r.log.add("apply " + address)
	return r.err
}

var testRetry = &reconcile.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

func testTopology() *ir.Topology {
	return ir.DefaultTopology(ir.Params{
		Domain:       "example.com",
		RootUsername: "admin",
		RootEmail:    "admin@example.com",
		RootPassword: "hunter2",
		SSHPublicKey: "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIExample admin@example.com",
	})
}

func newTestEngine(dir directory.Directory, log *journal) *Engine {
	return &Engine{
		Directory: dir,
		Runner:    &fakeRunner{log: log},
		Prober:    &fakeProber{log: log},
		Options:   Options{Parallelism: 2, Retry: testRetry},
	}
}

func TestApply_ConvergesFromEmpty(t *testing.T) {
	dir := null.New()
	log := &journal{}
	eng := newTestEngine(dir, log)

	var events []StageEvent
	h, err := eng.ApplyWithCallback(context.Background(), testTopology(), func(e StageEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	assert.Equal(t, "root", h.KeyPairs["root"])
	assert.Len(t, h.SecurityGroups, 2)
	require.Len(t, h.Instances, 2)
	lsd, drive := h.Instances["lsd"], h.Instances["drive"]
	assert.True(t, lsd.Created)
	assert.True(t, drive.Created)
	assert.NotEqual(t, lsd.Address, drive.Address)
	assert.Equal(t, []directory.NameTag{"drive"}, h.Configured)
	assert.NotEmpty(t, h.ZoneID)

	assert.Equal(t, map[directory.DomainName]ir.RecordHandle{
		"beta.example.com.":   {Type: "A", Value: lsd.Address},
		"docs.example.com.":   {Type: "A", Value: drive.Address},
		"sheets.example.com.": {Type: "A", Value: drive.Address},
	}, h.Records)
	assert.Len(t, dir.Records(h.ZoneID), 3)

	var started []Stage
	for _, e := range events {
		if e.Status == StatusStarted {
			started = append(started, e.Stage)
		}
	}
	assert.Equal(t, Stages(), started)
	assert.Equal(t, StatusCompleted, events[len(events)-1].Status)

	assert.Equal(t, []string{"probe " + drive.Address, "apply " + drive.Address}, log.list())
}

func TestApply_SecondRunCreatesNothing(t *testing.T) {
	dir := null.New()
	eng := newTestEngine(dir, &journal{})
	ctx := context.Background()

	first, err := eng.Apply(ctx, testTopology())
	require.NoError(t, err)

	dir.ResetCalls()
	second, err := eng.Apply(ctx, testTopology())
	require.NoError(t, err)

	for _, op := range []string{null.OpImportKeyPair, null.OpCreateSecurityGroup, null.OpAuthorizeIngress, null.OpRunInstance, null.OpCreateZone} {
		assert.Zero(t, dir.CountCalls(op), op)
	}
	// Upserts are repeated and harmless.
	assert.Equal(t, 3, dir.CountCalls(null.OpUpsertRecord))
	assert.Equal(t, dir.CountCalls(null.OpUpsertRecord), dir.Mutations())

	assert.Equal(t, first.KeyPairs, second.KeyPairs)
	assert.Equal(t, first.SecurityGroups, second.SecurityGroups)
	assert.Equal(t, first.ZoneID, second.ZoneID)
	assert.Equal(t, first.Records, second.Records)
	for name, inst := range second.Instances {
		assert.False(t, inst.Created, name)
		assert.Equal(t, first.Instances[name].ID, inst.ID)
		assert.Equal(t, first.Instances[name].Address, inst.Address)
	}
	assert.Len(t, dir.Instances(), 2)
	assert.Len(t, dir.Zones(), 1)
}

func TestApply_ExistingInfrastructureIsReused(t *testing.T) {
	dir := null.New()
	dir.AddKeyPair("root")
	sshID := dir.AddSecurityGroup("ssh", directory.IngressRule{Protocol: "tcp", Port: 22, CIDR: reconcile.AnywhereCIDR})
	webID := dir.AddSecurityGroup("web")
	lsdID := dir.AddInstance(directory.Instance{Name: "lsd", PublicAddress: "198.51.100.1"})
	zoneID := dir.AddZone("example.com")
	eng := newTestEngine(dir, &journal{})

	h, err := eng.Apply(context.Background(), testTopology())
	require.NoError(t, err)

	assert.Equal(t, sshID, h.SecurityGroups["ssh"])
	assert.Equal(t, webID, h.SecurityGroups["web"])
	assert.Empty(t, dir.Rules(webID))
	assert.Equal(t, ir.InstanceHandle{ID: lsdID, Address: "198.51.100.1"}, h.Instances["lsd"])
	assert.True(t, h.Instances["drive"].Created)
	assert.Equal(t, zoneID, h.ZoneID)
	assert.Equal(t, 1, dir.CountCalls(null.OpRunInstance))
	assert.Zero(t, dir.CountCalls(null.OpCreateZone))
}

func TestApply_LaunchFailureStopsRun(t *testing.T) {
	dir := null.New()
	boom := errors.New("InsufficientInstanceCapacity: no t4g capacity")
	dir.FailOn(null.OpRunInstance, boom)
	log := &journal{}
	eng := newTestEngine(dir, log)

	var last StageEvent
	h, err := eng.ApplyWithCallback(context.Background(), testTopology(), func(e StageEvent) { last = e })
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "stage instances")

	assert.Equal(t, StageInstances, last.Stage)
	assert.Equal(t, StatusFailed, last.Status)
	assert.ErrorIs(t, last.Error, boom)

	assert.Empty(t, log.list())
	assert.Zero(t, dir.CountCalls(null.OpListZonesByName))
	assert.Zero(t, dir.CountCalls(null.OpUpsertRecord))
	assert.Equal(t, "root", h.KeyPairs["root"])
}

func TestApply_ReadinessTimeoutStopsRun(t *testing.T) {
	dir := null.New()
	log := &journal{}
	eng := newTestEngine(dir, log)
	eng.Prober = &fakeProber{log: log, err: &readiness.TimeoutError{Address: "192.0.2.10", Port: 22, Attempts: 3}}

	_, err := eng.Apply(context.Background(), testTopology())
	var te *readiness.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "stage readiness")

	for _, entry := range log.list() {
		assert.NotContains(t, entry, "apply")
	}
	assert.Zero(t, dir.CountCalls(null.OpListZonesByName))
}

func TestApply_ConfigurationFailureStopsRun(t *testing.T) {
	dir := null.New()
	log := &journal{}
	eng := newTestEngine(dir, log)
	eng.Runner = &fakeRunner{log: log, err: &configure.Failure{Host: "192.0.2.10", Bundle: "drive/ansible.yaml", ExitCode: 2}}

	h, err := eng.Apply(context.Background(), testTopology())
	var f *configure.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, 2, f.ExitCode)
	assert.Contains(t, err.Error(), "stage configuration")
	assert.Empty(t, h.Configured)
	assert.Zero(t, dir.CountCalls(null.OpCreateZone))
}

func TestApply_ConfigurationFollowsReadiness(t *testing.T) {
	topo := testTopology()
	topo.Playbooks = append(topo.Playbooks, ir.PlaybookSpec{Host: "lsd", Bundle: "lsd/ansible.yaml"})
	log := &journal{}
	eng := newTestEngine(null.New(), log)

	h, err := eng.Apply(context.Background(), topo)
	require.NoError(t, err)
	assert.Equal(t, []directory.NameTag{"drive", "lsd"}, h.Configured)

	entries := log.list()
	require.Len(t, entries, 4)
	for _, e := range entries[:2] {
		assert.Contains(t, e, "probe ")
	}
	for _, e := range entries[2:] {
		assert.Contains(t, e, "apply ")
	}
}

func TestApply_SkipConfiguration(t *testing.T) {
	dir := null.New()
	eng := &Engine{
		Directory: dir,
		Options:   Options{SkipConfiguration: true, Retry: testRetry},
	}

	var stages []Stage
	h, err := eng.ApplyWithCallback(context.Background(), testTopology(), func(e StageEvent) {
		if e.Status == StatusStarted {
			stages = append(stages, e.Stage)
		}
	})
	require.NoError(t, err)
	assert.Empty(t, h.Configured)
	assert.Len(t, h.Records, 3)
	assert.NotContains(t, stages, StageReadiness)
	assert.NotContains(t, stages, StageConfiguration)
}

func TestApply_InvalidTopologyTouchesNothing(t *testing.T) {
	dir := null.New()
	topo := testTopology()
	topo.Records = append(topo.Records, ir.RecordSpec{Name: "mail.example.com", Target: "mail"})
	eng := newTestEngine(dir, &journal{})

	_, err := eng.Apply(context.Background(), topo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid topology")
	assert.Empty(t, dir.Calls())
}

func TestApply_CancelledContext(t *testing.T) {
	dir := null.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(dir, &journal{}).Apply(ctx, testTopology())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dir.Calls())
}

func TestApply_SequentialParallelism(t *testing.T) {
	dir := null.New()
	eng := newTestEngine(dir, &journal{})
	eng.Options.Parallelism = 0

	h, err := eng.Apply(context.Background(), testTopology())
	require.NoError(t, err)
	assert.Len(t, h.Instances, 2)
	assert.Equal(t, 1, eng.parallelism())
}
