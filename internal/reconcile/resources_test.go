package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/picklr-io/converge/internal/directory"
	"github.com/picklr-io/converge/internal/ir"
	"github.com/picklr-io/converge/providers/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPairs_Ensure(t *testing.T) {
	dir := null.New()
	kps := &KeyPairs{Dir: dir, Retry: fastRetry}
	ctx := context.Background()
	spec := ir.KeyPairSpec{Name: "root", PublicKey: "ssh-ed25519 AAAA"}

	res, err := kps.Ensure(ctx, spec)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "root", res.Handle)

	res, err = kps.Ensure(ctx, spec)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, 1, dir.CountCalls(null.OpImportKeyPair))
}

func TestKeyPairs_ImportRejected(t *testing.T) {
	dir := null.New()
	kps := &KeyPairs{Dir: dir, Retry: fastRetry}

	_, err := kps.Ensure(context.Background(), ir.KeyPairSpec{Name: "root"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidKey.Format")
}

func TestSecurityGroups_CreateAuthorizesRules(t *testing.T) {
	dir := null.New()
	sgs := &SecurityGroups{Dir: dir, Retry: fastRetry}

	res, err := sgs.Ensure(context.Background(), ir.SecurityGroupSpec{
		Name: "web",
		Ingress: []ir.PortRule{
			{Protocol: "tcp", Port: 80, Description: "HTTP"},
			{Protocol: "tcp", Port: 443, Description: "HTTPS"},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Created)

	rules := dir.Rules(res.Handle)
	require.Len(t, rules, 2)
	assert.Equal(t, directory.IngressRule{Protocol: "tcp", Port: 80, CIDR: AnywhereCIDR, Description: "HTTP"}, rules[0])
	assert.Equal(t, int32(443), rules[1].Port)
}

// An existing group is trusted: missing rules are not added.
func TestSecurityGroups_ExistingGroupLeftAlone(t *testing.T) {
	dir := null.New()
	id := dir.AddSecurityGroup("web", directory.IngressRule{Protocol: "tcp", Port: 80, CIDR: AnywhereCIDR})
	sgs := &SecurityGroups{Dir: dir, Retry: fastRetry}

	res, err := sgs.Ensure(context.Background(), ir.SecurityGroupSpec{
		Name: "web",
		Ingress: []ir.PortRule{
			{Protocol: "tcp", Port: 80},
			{Protocol: "tcp", Port: 443},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, id, res.Handle)
	assert.Len(t, dir.Rules(id), 1)
	assert.Zero(t, dir.Mutations())
}

func TestSecurityGroups_CreatedWithoutID(t *testing.T) {
	dir := null.New()
	dir.OmitIDs = true
	sgs := &SecurityGroups{Dir: dir, Retry: fastRetry}

	_, err := sgs.Ensure(context.Background(), ir.SecurityGroupSpec{
		Name:    "ssh",
		Ingress: []ir.PortRule{{Protocol: "tcp", Port: 22}},
	})
	var pe *ProvisioningError
	require.ErrorAs(t, err, &pe)
	assert.Zero(t, dir.CountCalls(null.OpAuthorizeIngress))
}

func TestSecurityGroups_AuthorizeFailure(t *testing.T) {
	dir := null.New()
	boom := errors.New("RulesPerSecurityGroupLimitExceeded")
	dir.FailOn(null.OpAuthorizeIngress, boom)
	sgs := &SecurityGroups{Dir: dir, Retry: fastRetry}

	_, err := sgs.Ensure(context.Background(), ir.SecurityGroupSpec{
		Name:    "ssh",
		Ingress: []ir.PortRule{{Protocol: "tcp", Port: 22}},
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "tcp/22")
}
