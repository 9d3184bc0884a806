package ir

import "github.com/picklr-io/converge/internal/directory"

// Handles are the identifiers and addresses resolved during one run. They
// are threaded from stage to stage and never persisted between runs.
type Handles struct {
	KeyPairs       map[directory.KeyName]string          `yaml:"keyPairs"`
	SecurityGroups map[directory.GroupName]string        `yaml:"securityGroups"`
	Instances      map[directory.NameTag]InstanceHandle  `yaml:"instances"`
	Configured     []directory.NameTag                   `yaml:"configured,omitempty"`
	ZoneID         string                                `yaml:"zoneId,omitempty"`
	Records        map[directory.DomainName]RecordHandle `yaml:"records,omitempty"`
}

// InstanceHandle is what dependents need from a launched instance.
type InstanceHandle struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
	Created bool   `yaml:"created"`
}

// RecordHandle is the value an address record was upserted with.
type RecordHandle struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// NewHandles returns an empty, ready to fill Handles.
func NewHandles() *Handles {
	return &Handles{
		KeyPairs:       make(map[directory.KeyName]string),
		SecurityGroups: make(map[directory.GroupName]string),
		Instances:      make(map[directory.NameTag]InstanceHandle),
		Records:        make(map[directory.DomainName]RecordHandle),
	}
}
