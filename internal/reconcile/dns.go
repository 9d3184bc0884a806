package reconcile

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/picklr-io/converge/internal/directory"
	"github.com/picklr-io/converge/internal/logging"
)

const (
	// RecordTypeA is the only record type the DNS manager writes.
	RecordTypeA = "A"
	// DefaultTTL is the time-to-live of every upserted record, in seconds.
	DefaultTTL int64 = 300
)

// DNS reconciles a hosted zone and upserts address records into it.
type DNS struct {
	Zones   directory.Zones
	Records directory.Records
	TTL     int64

	// CallerRef returns the uniqueness token sent with a zone creation.
	// Nil means a random UUID.
	CallerRef func() string

	Retry *RetryPolicy
}

// ReconcileZone returns the id of the zone for domain, creating it when no
// zone with that exact name exists.
func (d *DNS) ReconcileZone(ctx context.Context, domain directory.DomainName) (string, error) {
	res, err := (&Operation[directory.Zone]{
		Kind:     "dns zone",
		Identity: domain.FQDN(),
		Retry:    d.Retry,
		List: func(ctx context.Context) ([]directory.Zone, error) {
			return d.Zones.ListZonesByName(ctx, domain)
		},
		Match: func(z directory.Zone) bool {
			return z.Name.Equal(domain)
		},
		Handle: func(z directory.Zone) string {
			return z.ID
		},
		Create: func(ctx context.Context) (directory.Zone, error) {
			z, err := d.Zones.CreateZone(ctx, domain, d.callerRef())
			return deref(z), err
		},
	}).Execute(ctx)
	if err != nil {
		return "", err
	}
	return res.Handle, nil
}

// UpsertRecord points name at value. The provider treats the write as
// create-or-replace, so no lookup happens first.
func (d *DNS) UpsertRecord(ctx context.Context, name directory.DomainName, value, zoneID string) error {
	if zoneID == "" {
		return fmt.Errorf("record %q: empty zone id", name)
	}
	if ip := net.ParseIP(value); ip == nil || ip.To4() == nil {
		return fmt.Errorf("record %q: %q is not an IPv4 address", name, value)
	}

	ttl := d.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	err := d.Records.UpsertRecord(ctx, zoneID, directory.Record{
		Name:  name,
		Type:  RecordTypeA,
		TTL:   ttl,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert record %q: %w", name, err)
	}
	logging.Info("dns record updated", "name", name, "value", value)
	return nil
}

func (d *DNS) callerRef() string {
	if d.CallerRef != nil {
		return d.CallerRef()
	}
	return uuid.NewString()
}
