package api

import (
	"context"

	"github.com/stackinspector/teo-utils/internal/tcapi"
)

// EdgeOne sends actions of the teo service.
type EdgeOne struct {
	Caller tcapi.Caller
}

// SSL sends actions of the ssl service.
type SSL struct {
	Caller tcapi.Caller
}

// DownloadL7Logs lists offline log segments.
func (c *EdgeOne) DownloadL7Logs(ctx context.Context, req *DownloadL7LogsRequest) (*DownloadL7LogsResponse, error) {
	var resp DownloadL7LogsResponse
	if err := c.Caller.Call(ctx, tcapi.EdgeOne, "DownloadL7Logs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ModifyHostsCertificate binds certificates to hosts of a zone.
func (c *EdgeOne) ModifyHostsCertificate(ctx context.Context, req *ModifyHostsCertificateRequest) (*ModifyHostsCertificateResponse, error) {
	var resp ModifyHostsCertificateResponse
	if err := c.Caller.Call(ctx, tcapi.EdgeOne, "ModifyHostsCertificate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateDnsRecord adds a DNS record.
func (c *EdgeOne) CreateDnsRecord(ctx context.Context, req *CreateDnsRecordRequest) (*CreateDnsRecordResponse, error) {
	var resp CreateDnsRecordResponse
	if err := c.Caller.Call(ctx, tcapi.EdgeOne, "CreateDnsRecord", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DescribeDnsRecords lists DNS records.
func (c *EdgeOne) DescribeDnsRecords(ctx context.Context, req *DescribeDnsRecordsRequest) (*DescribeDnsRecordsResponse, error) {
	var resp DescribeDnsRecordsResponse
	if err := c.Caller.Call(ctx, tcapi.EdgeOne, "DescribeDnsRecords", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteDnsRecords removes DNS records.
func (c *EdgeOne) DeleteDnsRecords(ctx context.Context, req *DeleteDnsRecordsRequest) (*DeleteDnsRecordsResponse, error) {
	var resp DeleteDnsRecordsResponse
	if err := c.Caller.Call(ctx, tcapi.EdgeOne, "DeleteDnsRecords", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadCertificate uploads a certificate.
func (c *SSL) UploadCertificate(ctx context.Context, req *UploadCertificateRequest) (*UploadCertificateResponse, error) {
	var resp UploadCertificateResponse
	if err := c.Caller.Call(ctx, tcapi.SSL, "UploadCertificate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
