package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/picklr-io/converge/internal/directory"
)

// ListZonesByName returns hosted zones in name order starting at domain.
// Paging stops once the listing has moved past domain.
func (p *Provider) ListZonesByName(ctx context.Context, domain directory.DomainName) ([]directory.Zone, error) {
	var out []directory.Zone
	input := &route53.ListHostedZonesByNameInput{DNSName: aws.String(domain.FQDN())}
	for {
		resp, err := p.route53Client.ListHostedZonesByName(ctx, input)
		if err != nil {
			return nil, wrap("list hosted zones", err)
		}
		for _, z := range resp.HostedZones {
			out = append(out, directory.Zone{
				Name: directory.DomainName(aws.ToString(z.Name)),
				ID:   aws.ToString(z.Id),
				Raw:  z,
			})
		}
		next := directory.DomainName(aws.ToString(resp.NextDNSName))
		if !resp.IsTruncated || !next.Equal(domain) {
			return out, nil
		}
		input = &route53.ListHostedZonesByNameInput{
			DNSName:      resp.NextDNSName,
			HostedZoneId: resp.NextHostedZoneId,
		}
	}
}

func (p *Provider) CreateZone(ctx context.Context, domain directory.DomainName, callerRef string) (*directory.Zone, error) {
	resp, err := p.route53Client.CreateHostedZone(ctx, &route53.CreateHostedZoneInput{
		Name:            aws.String(domain.FQDN()),
		CallerReference: aws.String(callerRef),
	})
	if err != nil {
		return nil, wrap("create hosted zone", err)
	}
	zone := &directory.Zone{Name: directory.DomainName(domain.FQDN()), Raw: resp}
	if resp.HostedZone != nil {
		zone.ID = aws.ToString(resp.HostedZone.Id)
	}
	return zone, nil
}

func (p *Provider) UpsertRecord(ctx context.Context, zoneID string, rec directory.Record) error {
	_, err := p.route53Client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{
				Action: types.ChangeActionUpsert,
				ResourceRecordSet: &types.ResourceRecordSet{
					Name:            aws.String(rec.Name.FQDN()),
					Type:            types.RRType(rec.Type),
					TTL:             aws.Int64(rec.TTL),
					ResourceRecords: []types.ResourceRecord{{Value: aws.String(rec.Value)}},
				},
			}},
		},
	})
	if err != nil {
		return wrap("upsert record set", err)
	}
	return nil
}
