package reconcile

import (
	"context"
	"fmt"

	"github.com/picklr-io/converge/internal/directory"
	"github.com/picklr-io/converge/internal/ir"
	"github.com/picklr-io/converge/internal/logging"
)

// AnywhereCIDR is the source range every ingress rule is opened to.
const AnywhereCIDR = "0.0.0.0/0"

// SecurityGroups reconciles firewall groups by name.
type SecurityGroups struct {
	Dir   directory.SecurityGroups
	Retry *RetryPolicy
}

// Ensure returns the group id, creating the group and authorizing its rules
// when no group with that name exists. An existing group is returned as-is:
// its rules are neither compared nor extended.
func (s *SecurityGroups) Ensure(ctx context.Context, spec ir.SecurityGroupSpec) (*Result[directory.SecurityGroup], error) {
	description := spec.Description
	if description == "" {
		description = string(spec.Name)
	}

	return (&Operation[directory.SecurityGroup]{
		Kind:     "security group",
		Identity: string(spec.Name),
		Retry:    s.Retry,
		List:     s.Dir.ListSecurityGroups,
		Match: func(g directory.SecurityGroup) bool {
			return g.Name == spec.Name
		},
		Handle: func(g directory.SecurityGroup) string {
			return g.ID
		},
		Create: func(ctx context.Context) (directory.SecurityGroup, error) {
			g, err := s.Dir.CreateSecurityGroup(ctx, spec.Name, description)
			if err != nil || g == nil || g.ID == "" {
				return deref(g), err
			}
			for _, rule := range spec.Ingress {
				err := s.Dir.AuthorizeIngress(ctx, g.ID, directory.IngressRule{
					Protocol:    rule.Protocol,
					Port:        rule.Port,
					CIDR:        AnywhereCIDR,
					Description: rule.Description,
				})
				if err != nil {
					// The group now exists with a partial rule set; later runs
					// will find it by name and leave it alone.
					logging.Warn("security group created with incomplete rules",
						"name", spec.Name, "id", g.ID, "port", rule.Port)
					return *g, fmt.Errorf("failed to authorize %s/%d: %w", rule.Protocol, rule.Port, err)
				}
			}
			logging.Info("security group rules authorized", "name", spec.Name, "rules", len(spec.Ingress))
			return *g, nil
		},
	}).Execute(ctx)
}
