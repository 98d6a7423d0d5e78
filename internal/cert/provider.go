package cert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/libdns/libdns"
	"github.com/miekg/dns"

	"github.com/stackinspector/teo-utils/internal/api"
)

var _ libdns.RecordAppender = (*Provider)(nil)
var _ libdns.RecordDeleter = (*Provider)(nil)
var _ libdns.RecordGetter = (*Provider)(nil)

// MinTTL is the smallest TTL EdgeOne accepts.
const MinTTL = 60 * time.Second

const describePageSize = 1000

// DNSAPI is the subset of EdgeOne actions the provider needs.
type DNSAPI interface {
	CreateDnsRecord(ctx context.Context, req *api.CreateDnsRecordRequest) (*api.CreateDnsRecordResponse, error)
	DescribeDnsRecords(ctx context.Context, req *api.DescribeDnsRecordsRequest) (*api.DescribeDnsRecordsResponse, error)
	DeleteDnsRecords(ctx context.Context, req *api.DeleteDnsRecordsRequest) (*api.DeleteDnsRecordsResponse, error)
}

// Provider manages records of one EdgeOne-hosted zone through the API.
type Provider struct {
	API    DNSAPI
	ZoneID string

	created *recordStore
}

// NewProvider creates a Provider for the EdgeOne zone zoneID.
func NewProvider(dnsAPI DNSAPI, zoneID string) *Provider {
	return &Provider{API: dnsAPI, ZoneID: zoneID, created: newRecordStore()}
}

// AppendRecords creates recs under zone.
func (p *Provider) AppendRecords(ctx context.Context, zone string, recs []libdns.Record) ([]libdns.Record, error) {
	added := make([]libdns.Record, 0, len(recs))
	for _, r := range recs {
		rr := r.RR()
		name := absoluteName(zone, rr.Name)
		if !dns.IsSubDomain(NormalizeName(zone), name) {
			return added, fmt.Errorf("record %s is outside zone %s", name, zone)
		}

		ttl := rr.TTL
		if ttl < MinTTL {
			ttl = MinTTL
		}
		resp, err := p.API.CreateDnsRecord(ctx, &api.CreateDnsRecordRequest{
			ZoneId:  p.ZoneID,
			Name:    strings.TrimSuffix(name, "."),
			Type:    strings.ToUpper(rr.Type),
			Content: rr.Data,
			TTL:     int(ttl / time.Second),
		})
		if err != nil {
			return added, fmt.Errorf("create %s record %s: %w", rr.Type, name, err)
		}
		p.store().add(name, strings.ToUpper(rr.Type), rr.Data, resp.RecordId)
		added = append(added, libdns.RR{Name: rr.Name, TTL: ttl, Type: strings.ToUpper(rr.Type), Data: rr.Data})
	}
	return added, nil
}

// DeleteRecords removes recs from zone. Records this provider created are
// deleted by id; others are looked up by name, type and content.
func (p *Provider) DeleteRecords(ctx context.Context, zone string, recs []libdns.Record) ([]libdns.Record, error) {
	var ids []string
	var deleted []libdns.Record
	var existing []api.DnsRecord
	listed := false

	for _, r := range recs {
		rr := r.RR()
		name := absoluteName(zone, rr.Name)
		typ := strings.ToUpper(rr.Type)

		if id, ok := p.store().take(name, typ, rr.Data); ok {
			ids = append(ids, id)
			deleted = append(deleted, r)
			continue
		}

		if !listed {
			var err error
			existing, err = p.describe(ctx)
			if err != nil {
				return nil, err
			}
			listed = true
		}
		for _, rec := range existing {
			if NormalizeName(rec.Name) == name && strings.EqualFold(rec.Type, typ) && rec.Content == rr.Data {
				ids = append(ids, rec.RecordId)
				deleted = append(deleted, r)
			}
		}
	}

	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := p.API.DeleteDnsRecords(ctx, &api.DeleteDnsRecordsRequest{ZoneId: p.ZoneID, RecordIds: ids}); err != nil {
		return nil, fmt.Errorf("delete records: %w", err)
	}
	return deleted, nil
}

// GetRecords lists every record of the zone with names relative to zone.
func (p *Provider) GetRecords(ctx context.Context, zone string) ([]libdns.Record, error) {
	existing, err := p.describe(ctx)
	if err != nil {
		return nil, err
	}
	zone = NormalizeName(zone)
	recs := make([]libdns.Record, 0, len(existing))
	for _, rec := range existing {
		name := "@"
		if fqdn := NormalizeName(rec.Name); fqdn != zone {
			name = libdns.RelativeName(fqdn, zone)
		}
		recs = append(recs, libdns.RR{
			Name: name,
			TTL:  time.Duration(rec.TTL) * time.Second,
			Type: rec.Type,
			Data: rec.Content,
		})
	}
	return recs, nil
}

func (p *Provider) describe(ctx context.Context) ([]api.DnsRecord, error) {
	var all []api.DnsRecord
	for {
		resp, err := p.API.DescribeDnsRecords(ctx, &api.DescribeDnsRecordsRequest{
			ZoneId: p.ZoneID,
			Offset: len(all),
			Limit:  describePageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("describe records: %w", err)
		}
		all = append(all, resp.DnsRecords...)
		if len(resp.DnsRecords) == 0 || len(all) >= resp.TotalCount {
			return all, nil
		}
	}
}

func (p *Provider) store() *recordStore {
	if p.created == nil {
		p.created = newRecordStore()
	}
	return p.created
}

// absoluteName returns the canonical FQDN of name relative to zone. A name
// with a trailing dot, or one that already ends in the zone, is taken as
// absolute.
func absoluteName(zone, name string) string {
	zone = NormalizeName(zone)
	if name != "." && strings.HasSuffix(name, ".") {
		return NormalizeName(name)
	}
	trimmed := strings.TrimSuffix(strings.ToLower(name), ".")

	if trimmed == "" || trimmed == "@" {
		return zone
	}
	if fqdn := dns.Fqdn(trimmed); dns.IsSubDomain(zone, fqdn) {
		return fqdn
	}
	return dns.Fqdn(trimmed + "." + strings.TrimSuffix(zone, "."))
}
