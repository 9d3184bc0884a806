package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/picklr-io/converge/internal/directory"
)

const nameTag = "Name"

func (p *Provider) ListKeyPairs(ctx context.Context) ([]directory.KeyPair, error) {
	resp, err := p.ec2Client.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{})
	if err != nil {
		return nil, wrap("describe key pairs", err)
	}
	out := make([]directory.KeyPair, 0, len(resp.KeyPairs))
	for _, kp := range resp.KeyPairs {
		out = append(out, directory.KeyPair{
			Name: directory.KeyName(aws.ToString(kp.KeyName)),
			ID:   aws.ToString(kp.KeyPairId),
			Raw:  kp,
		})
	}
	return out, nil
}

func (p *Provider) ImportKeyPair(ctx context.Context, name directory.KeyName, publicKey []byte) (*directory.KeyPair, error) {
	resp, err := p.ec2Client.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
		KeyName:           aws.String(string(name)),
		PublicKeyMaterial: publicKey,
	})
	if err != nil {
		return nil, wrap("import key pair", err)
	}
	return &directory.KeyPair{
		Name: directory.KeyName(aws.ToString(resp.KeyName)),
		ID:   aws.ToString(resp.KeyPairId),
		Raw:  resp,
	}, nil
}

func (p *Provider) ListSecurityGroups(ctx context.Context) ([]directory.SecurityGroup, error) {
	var out []directory.SecurityGroup
	pager := ec2.NewDescribeSecurityGroupsPaginator(p.ec2Client, &ec2.DescribeSecurityGroupsInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, wrap("describe security groups", err)
		}
		for _, sg := range page.SecurityGroups {
			out = append(out, directory.SecurityGroup{
				Name: directory.GroupName(aws.ToString(sg.GroupName)),
				ID:   aws.ToString(sg.GroupId),
				Raw:  sg,
			})
		}
	}
	return out, nil
}

func (p *Provider) CreateSecurityGroup(ctx context.Context, name directory.GroupName, description string) (*directory.SecurityGroup, error) {
	if description == "" {
		description = string(name)
	}
	resp, err := p.ec2Client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(string(name)),
		Description: aws.String(description),
	})
	if err != nil {
		return nil, wrap("create security group", err)
	}
	return &directory.SecurityGroup{
		Name: name,
		ID:   aws.ToString(resp.GroupId),
		Raw:  resp,
	}, nil
}

func (p *Provider) AuthorizeIngress(ctx context.Context, groupID string, rule directory.IngressRule) error {
	ipRange := types.IpRange{CidrIp: aws.String(rule.CIDR)}
	if rule.Description != "" {
		ipRange.Description = aws.String(rule.Description)
	}
	_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(groupID),
		IpPermissions: []types.IpPermission{{
			IpProtocol: aws.String(rule.Protocol),
			FromPort:   aws.Int32(rule.Port),
			ToPort:     aws.Int32(rule.Port),
			IpRanges:   []types.IpRange{ipRange},
		}},
	})
	if err != nil {
		return wrap("authorize security group ingress", err)
	}
	return nil
}

func (p *Provider) ListInstances(ctx context.Context) ([]directory.Instance, error) {
	var out []directory.Instance
	pager := ec2.NewDescribeInstancesPaginator(p.ec2Client, &ec2.DescribeInstancesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, wrap("describe instances", err)
		}
		for _, r := range page.Reservations {
			for _, inst := range r.Instances {
				out = append(out, toInstance(inst))
			}
		}
	}
	return out, nil
}

func (p *Provider) RunInstance(ctx context.Context, in directory.RunInput) (*directory.Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:          aws.String(in.Image),
		InstanceType:     types.InstanceType(in.InstanceType),
		KeyName:          aws.String(string(in.KeyName)),
		SecurityGroupIds: in.SecurityGroupIDs,
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         []types.Tag{{Key: aws.String(nameTag), Value: aws.String(string(in.Name))}},
		}},
	}
	if in.Storage.DeviceName != "" {
		input.BlockDeviceMappings = []types.BlockDeviceMapping{{
			DeviceName: aws.String(in.Storage.DeviceName),
			Ebs: &types.EbsBlockDevice{
				VolumeSize:          aws.Int32(in.Storage.SizeGiB),
				VolumeType:          types.VolumeType(in.Storage.VolumeType),
				Encrypted:           aws.Bool(in.Storage.Encrypted),
				DeleteOnTermination: aws.Bool(true),
			},
		}}
	}

	resp, err := p.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return nil, wrap("run instance", err)
	}
	if len(resp.Instances) == 0 {
		return &directory.Instance{Name: in.Name, Raw: resp}, nil
	}
	inst := toInstance(resp.Instances[0])
	if inst.Name == "" {
		inst.Name = in.Name
	}
	return &inst, nil
}

func (p *Provider) WaitUntilRunning(ctx context.Context, id string, timeout time.Duration) error {
	waiter := ec2.NewInstanceRunningWaiter(p.ec2Client)
	err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}}, timeout)
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "exceeded max wait time") {
		return fmt.Errorf("instance %s: %w: %v", id, directory.ErrWaitTimeout, err)
	}
	return wrap("wait for instance running", err)
}

func (p *Provider) DescribeInstance(ctx context.Context, id string) (*directory.Instance, error) {
	resp, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return nil, wrap("describe instance", err)
	}
	for _, r := range resp.Reservations {
		for _, inst := range r.Instances {
			if aws.ToString(inst.InstanceId) == id {
				out := toInstance(inst)
				return &out, nil
			}
		}
	}
	return nil, fmt.Errorf("instance %s not found", id)
}

func toInstance(inst types.Instance) directory.Instance {
	out := directory.Instance{
		ID:            aws.ToString(inst.InstanceId),
		PublicAddress: aws.ToString(inst.PublicIpAddress),
		Raw:           inst,
	}
	if inst.State != nil {
		out.State = directory.InstanceState(inst.State.Name)
	}
	for _, tag := range inst.Tags {
		if aws.ToString(tag.Key) == nameTag {
			out.Name = directory.NameTag(aws.ToString(tag.Value))
			break
		}
	}
	return out
}
