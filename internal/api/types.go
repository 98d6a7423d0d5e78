// Package api defines the Tencent Cloud actions used by teo-utils and thin
// typed wrappers that send them through a tcapi.Caller.
package api

// DownloadL7LogsRequest queries the offline L7 access-log segments of one or
// more zones within a time window.
type DownloadL7LogsRequest struct {
	StartTime string   `json:"StartTime"` // RFC3339 with offset
	EndTime   string   `json:"EndTime"`   // RFC3339 with offset
	ZoneIds   []string `json:"ZoneIds"`
	Domains   []string `json:"Domains,omitempty"`
	Limit     uint32   `json:"Limit"`
	Offset    uint32   `json:"Offset"`
}

// DownloadL7LogsResponse lists the segments matching a DownloadL7LogsRequest.
type DownloadL7LogsResponse struct {
	TotalCount uint32         `json:"TotalCount"`
	Data       []L7OfflineLog `json:"Data"`
	RequestId  string         `json:"RequestId"`
}

// L7OfflineLog describes one exported log segment.
type L7OfflineLog struct {
	Domain        string `json:"Domain"`
	Area          string `json:"Area"`
	LogPacketName string `json:"LogPacketName"`
	Url           string `json:"Url"`
	LogTime       uint64 `json:"LogTime"`
	LogStartTime  string `json:"LogStartTime"`
	LogEndTime    string `json:"LogEndTime"`
	Size          uint64 `json:"Size"`
}

// ServerCertInfo references an uploaded certificate.
type ServerCertInfo struct {
	CertId string `json:"CertId"`
}

// Host certificate modes.
const (
	CertModeSSL        = "sslcert"
	CertModeManaged    = "apply"
	CertModeDisableTLS = "disable"
)

// ModifyHostsCertificateRequest binds a certificate to accelerated hosts.
type ModifyHostsCertificateRequest struct {
	ZoneId         string           `json:"ZoneId"`
	Hosts          []string         `json:"Hosts"`
	ServerCertInfo []ServerCertInfo `json:"ServerCertInfo"`
	Mode           string           `json:"Mode"`
}

// ModifyHostsCertificateResponse carries only the request id.
type ModifyHostsCertificateResponse struct {
	RequestId string `json:"RequestId"`
}

// CreateDnsRecordRequest adds one record to an EdgeOne-hosted zone.
type CreateDnsRecordRequest struct {
	ZoneId  string `json:"ZoneId"`
	Name    string `json:"Name"`
	Type    string `json:"Type"`
	Content string `json:"Content"`
	TTL     int    `json:"TTL,omitempty"`
}

// CreateDnsRecordResponse returns the new record id.
type CreateDnsRecordResponse struct {
	RecordId  string `json:"RecordId"`
	RequestId string `json:"RequestId"`
}

// AdvancedFilter narrows DescribeDnsRecords results.
type AdvancedFilter struct {
	Name   string   `json:"Name"`
	Values []string `json:"Values"`
	Fuzzy  bool     `json:"Fuzzy,omitempty"`
}

// DescribeDnsRecordsRequest lists records of a zone.
type DescribeDnsRecordsRequest struct {
	ZoneId  string           `json:"ZoneId"`
	Offset  int              `json:"Offset"`
	Limit   int              `json:"Limit"`
	Filters []AdvancedFilter `json:"Filters,omitempty"`
}

// DnsRecord is one record as returned by DescribeDnsRecords.
type DnsRecord struct {
	ZoneId   string `json:"ZoneId"`
	RecordId string `json:"RecordId"`
	Name     string `json:"Name"`
	Type     string `json:"Type"`
	Content  string `json:"Content"`
	TTL      int    `json:"TTL"`
}

// DescribeDnsRecordsResponse is one page of records.
type DescribeDnsRecordsResponse struct {
	TotalCount int         `json:"TotalCount"`
	DnsRecords []DnsRecord `json:"DnsRecords"`
	RequestId  string      `json:"RequestId"`
}

// DeleteDnsRecordsRequest removes records by id.
type DeleteDnsRecordsRequest struct {
	ZoneId    string   `json:"ZoneId"`
	RecordIds []string `json:"RecordIds"`
}

// DeleteDnsRecordsResponse carries only the request id.
type DeleteDnsRecordsResponse struct {
	RequestId string `json:"RequestId"`
}

// Certificate types accepted by UploadCertificate.
const (
	CertificateTypeServer = "SVR"
	CertificateTypeCA     = "CA"
)

// UploadCertificateRequest uploads a PEM certificate chain and key to SSL.
type UploadCertificateRequest struct {
	CertificatePublicKey  string `json:"CertificatePublicKey"`
	CertificatePrivateKey string `json:"CertificatePrivateKey"`
	CertificateType       string `json:"CertificateType"`
	Alias                 string `json:"Alias"`
	AllowDownload         bool   `json:"AllowDownload"`
	Repeatable            bool   `json:"Repeatable"`
}

// UploadCertificateResponse returns the new certificate id, or the id of an
// identical certificate already present.
type UploadCertificateResponse struct {
	CertificateId string `json:"CertificateId"`
	RepeatCertId  string `json:"RepeatCertId"`
	RequestId     string `json:"RequestId"`
}
