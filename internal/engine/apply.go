package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/picklr-io/converge/internal/directory"
	"github.com/picklr-io/converge/internal/ir"
	"github.com/picklr-io/converge/internal/logging"
	"github.com/picklr-io/converge/internal/readiness"
	"github.com/picklr-io/converge/internal/reconcile"
	"golang.org/x/sync/errgroup"
)

// Apply converges topo and returns the resolved handles.
func (e *Engine) Apply(ctx context.Context, topo *ir.Topology) (*ir.Handles, error) {
	return e.ApplyWithCallback(ctx, topo, nil)
}

// ApplyWithCallback converges topo with progress event callbacks. Stages run
// strictly in order and the first failure stops the run; the handles
// resolved so far are returned alongside the error.
func (e *Engine) ApplyWithCallback(ctx context.Context, topo *ir.Topology, callback StageCallback) (*ir.Handles, error) {
	if topo == nil {
		return nil, errors.New("nil topology")
	}
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}

	emit := func(event StageEvent) {
		if callback != nil {
			callback(event)
		}
	}

	r := &run{engine: e, topo: topo, handles: ir.NewHandles()}
	steps := map[Stage]func(context.Context) error{
		StageKeyPair:        r.keyPairs,
		StageSecurityGroups: r.securityGroups,
		StageInstances:      r.instances,
		StageReadiness:      r.readiness,
		StageConfiguration:  r.configuration,
		StageDNSZone:        r.dnsZone,
		StageDNSRecords:     r.dnsRecords,
	}

	for _, stage := range Stages() {
		if e.Options.SkipConfiguration && (stage == StageReadiness || stage == StageConfiguration) {
			logging.Info("stage skipped", "stage", stage)
			continue
		}
		if err := ctx.Err(); err != nil {
			return r.handles, fmt.Errorf("apply cancelled before stage %s: %w", stage, err)
		}

		start := time.Now()
		emit(StageEvent{Stage: stage, Status: StatusStarted})
		logging.Debug("stage started", "stage", stage)

		sctx, cancel := WithTimeout(ctx, e.Options.StageTimeout)
		err := steps[stage](sctx)
		cancel()

		if err != nil {
			emit(StageEvent{Stage: stage, Status: StatusFailed, Duration: time.Since(start), Error: err})
			return r.handles, fmt.Errorf("stage %s: %w", stage, err)
		}
		emit(StageEvent{Stage: stage, Status: StatusCompleted, Duration: time.Since(start)})
		logging.Debug("stage completed", "stage", stage, "duration", time.Since(start))
	}

	return r.handles, nil
}

// run is the state of one Apply call.
type run struct {
	engine  *Engine
	topo    *ir.Topology
	zoneID  string
	mu      sync.Mutex
	handles *ir.Handles

	// reachable holds the addresses that passed the readiness stage.
	reachable map[directory.NameTag]string
}

// fanOut runs fn for 0..n-1 with bounded concurrency. The first error
// cancels the context handed to the others.
func (r *run) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.engine.parallelism())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

func (r *run) keyPairs(ctx context.Context) error {
	kps := &reconcile.KeyPairs{Dir: r.engine.Directory, Retry: r.engine.retry()}
	for _, spec := range r.topo.KeyPairs {
		res, err := kps.Ensure(ctx, spec)
		if err != nil {
			return err
		}
		r.handles.KeyPairs[spec.Name] = res.Handle
	}
	return nil
}

func (r *run) securityGroups(ctx context.Context) error {
	sgs := &reconcile.SecurityGroups{Dir: r.engine.Directory, Retry: r.engine.retry()}
	for _, spec := range r.topo.SecurityGroups {
		res, err := sgs.Ensure(ctx, spec)
		if err != nil {
			return err
		}
		r.handles.SecurityGroups[spec.Name] = res.Handle
	}
	return nil
}

func (r *run) instances(ctx context.Context) error {
	l := &reconcile.Launcher{
		Dir:            r.engine.Directory,
		RunningTimeout: r.engine.Options.LaunchTimeout,
		Stopped:        r.engine.Options.StoppedInstances,
		Retry:          r.engine.retry(),
	}
	return r.fanOut(ctx, len(r.topo.Instances), func(ctx context.Context, i int) error {
		spec := r.topo.Instances[i]
		groupIDs := make([]string, 0, len(spec.SecurityGroups))
		for _, g := range spec.SecurityGroups {
			groupIDs = append(groupIDs, r.handles.SecurityGroups[g])
		}

		launched, err := l.Launch(ctx, spec, groupIDs)
		if err != nil {
			return err
		}

		r.mu.Lock()
		r.handles.Instances[spec.Name] = ir.InstanceHandle{
			ID:      launched.ID,
			Address: launched.Address,
			Created: launched.Created,
		}
		r.mu.Unlock()
		return nil
	})
}

// readiness waits for every host that has a playbook to accept ssh.
func (r *run) readiness(ctx context.Context) error {
	var hosts []directory.NameTag
	for _, pb := range r.topo.Playbooks {
		if !slices.Contains(hosts, pb.Host) {
			hosts = append(hosts, pb.Host)
		}
	}

	if len(hosts) > 0 && r.engine.Prober == nil {
		return errors.New("no readiness prober configured")
	}
	r.reachable = make(map[directory.NameTag]string, len(hosts))
	return r.fanOut(ctx, len(hosts), func(ctx context.Context, i int) error {
		host := hosts[i]
		address := r.handles.Instances[host].Address
		if err := r.engine.Prober.AwaitReachable(ctx, address, readiness.SSHPort, r.engine.Options.ReadinessTimeout); err != nil {
			return fmt.Errorf("host %s: %w", host, err)
		}
		r.mu.Lock()
		r.reachable[host] = address
		r.mu.Unlock()
		return nil
	})
}

func (r *run) configuration(ctx context.Context) error {
	if len(r.topo.Playbooks) > 0 && r.engine.Runner == nil {
		return errors.New("no configuration runner configured")
	}
	err := r.fanOut(ctx, len(r.topo.Playbooks), func(ctx context.Context, i int) error {
		pb := r.topo.Playbooks[i]
		r.mu.Lock()
		address, ok := r.reachable[pb.Host]
		r.mu.Unlock()
		if !ok {
			return fmt.Errorf("host %s has not passed readiness", pb.Host)
		}
		if err := r.engine.Runner.Apply(ctx, address, pb); err != nil {
			return err
		}

		r.mu.Lock()
		if !slices.Contains(r.handles.Configured, pb.Host) {
			r.handles.Configured = append(r.handles.Configured, pb.Host)
		}
		r.mu.Unlock()
		return nil
	})
	slices.Sort(r.handles.Configured)
	return err
}

func (r *run) dns() *reconcile.DNS {
	return &reconcile.DNS{
		Zones:   r.engine.Directory,
		Records: r.engine.Directory,
		Retry:   r.engine.retry(),
	}
}

func (r *run) dnsZone(ctx context.Context) error {
	if r.topo.Domain == "" {
		return nil
	}
	zoneID, err := r.dns().ReconcileZone(ctx, r.topo.Domain)
	if err != nil {
		return err
	}
	r.zoneID = zoneID
	r.handles.ZoneID = zoneID
	return nil
}

func (r *run) dnsRecords(ctx context.Context) error {
	dns := r.dns()
	for _, rec := range r.topo.Records {
		address := r.handles.Instances[rec.Target].Address
		if err := dns.UpsertRecord(ctx, rec.Name, address, r.zoneID); err != nil {
			return err
		}
		r.handles.Records[directory.DomainName(rec.Name.FQDN())] = ir.RecordHandle{
			Type:  reconcile.RecordTypeA,
			Value: address,
		}
	}
	return nil
}
