// Package engine drives a topology through the provisioning stages.
package engine

import (
	"time"

	"github.com/picklr-io/converge/internal/configure"
	"github.com/picklr-io/converge/internal/directory"
	"github.com/picklr-io/converge/internal/readiness"
	"github.com/picklr-io/converge/internal/reconcile"
)

// Stage names one step of a run.
type Stage string

const (
	StageKeyPair        Stage = "keypair"
	StageSecurityGroups Stage = "security-groups"
	StageInstances      Stage = "instances"
	StageReadiness      Stage = "readiness"
	StageConfiguration  Stage = "configuration"
	StageDNSZone        Stage = "dns-zone"
	StageDNSRecords     Stage = "dns-records"
)

// Stages returns every stage in execution order.
func Stages() []Stage {
	return []Stage{
		StageKeyPair,
		StageSecurityGroups,
		StageInstances,
		StageReadiness,
		StageConfiguration,
		StageDNSZone,
		StageDNSRecords,
	}
}

// Stage event statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StageEvent reports progress of one stage.
type StageEvent struct {
	Stage    Stage
	Status   string
	Duration time.Duration
	Error    error
}

// StageCallback is called for each stage event if set.
type StageCallback func(event StageEvent)

// Options tune a run. The zero value is usable.
type Options struct {
	// Parallelism bounds concurrent work inside the instances, readiness
	// and configuration stages. Values below 1 mean 1.
	Parallelism int

	LaunchTimeout    time.Duration
	ReadinessTimeout time.Duration
	// StageTimeout bounds each stage as a whole.
	StageTimeout time.Duration

	StoppedInstances reconcile.StoppedPolicy
	// SkipConfiguration skips the readiness and configuration stages.
	SkipConfiguration bool

	Retry *reconcile.RetryPolicy
}

// Engine converges a topology against a directory.
type Engine struct {
	Directory directory.Directory
	Runner    configure.Runner
	Prober    readiness.Prober
	Options   Options
}

// NewEngine returns an engine with the default prober and ansible runner.
func NewEngine(dir directory.Directory, opts Options) *Engine {
	return &Engine{
		Directory: dir,
		Runner:    &configure.Ansible{},
		Prober:    readiness.NewPoller(),
		Options:   opts,
	}
}

func (e *Engine) parallelism() int {
	if e.Options.Parallelism < 1 {
		return 1
	}
	return e.Options.Parallelism
}

func (e *Engine) retry() *reconcile.RetryPolicy {
	if e.Options.Retry == nil {
		return reconcile.DefaultRetryPolicy()
	}
	return e.Options.Retry
}
