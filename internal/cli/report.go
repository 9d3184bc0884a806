package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/picklr-io/converge/internal/config"
	"github.com/picklr-io/converge/internal/ir"
	"gopkg.in/yaml.v3"
)

// report is what apply leaves behind for operators and scripts.
type report struct {
	Domain      string     `yaml:"domain"`
	Provider    string     `yaml:"provider"`
	Region      string     `yaml:"region,omitempty"`
	CompletedAt time.Time  `yaml:"completedAt"`
	Handles     ir.Handles `yaml:"handles"`
}

func newReport(cfg *config.Config, h *ir.Handles) *report {
	return &report{
		Domain:      cfg.Domain,
		Provider:    cfg.Provider,
		Region:      cfg.Region,
		CompletedAt: time.Now().UTC(),
		Handles:     *h,
	}
}

func writeReport(path string, r *report) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func readReport(path string) (*report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return &r, nil
}

// values flattens the report into dotted keys.
func (r *report) values() map[string]string {
	out := make(map[string]string)
	if r.Handles.ZoneID != "" {
		out["zone_id"] = r.Handles.ZoneID
	}
	for name, id := range r.Handles.KeyPairs {
		out["keypair."+string(name)] = id
	}
	for name, id := range r.Handles.SecurityGroups {
		out["security_group."+string(name)] = id
	}
	for name, inst := range r.Handles.Instances {
		out["instance."+string(name)+".id"] = inst.ID
		out["instance."+string(name)+".address"] = inst.Address
	}
	for name, rec := range r.Handles.Records {
		out["record."+string(name)] = rec.Value
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
