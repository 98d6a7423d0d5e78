// Package cert deploys TLS certificates to EdgeOne hosts and can obtain them
// from an ACME CA using EdgeOne DNS for DNS-01 challenges.
package cert

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/jsonc"
	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/api"
	"github.com/stackinspector/teo-utils/internal/logging"
)

// Alias returns the certificate alias <prefix>_<YYYYMMDD> for t in UTC.
func Alias(prefix string, t time.Time) string {
	return prefix + "_" + t.UTC().Format("20060102")
}

// DuplicateCertificateError is returned when the SSL service already holds
// an identical certificate.
type DuplicateCertificateError struct {
	Alias        string
	RepeatCertID string
}

func (e *DuplicateCertificateError) Error() string {
	return fmt.Sprintf("certificate %s duplicates existing certificate %s", e.Alias, e.RepeatCertID)
}

// CertUploader uploads certificates to the SSL service.
type CertUploader interface {
	UploadCertificate(ctx context.Context, req *api.UploadCertificateRequest) (*api.UploadCertificateResponse, error)
}

// HostBinder binds certificates to EdgeOne hosts.
type HostBinder interface {
	ModifyHostsCertificate(ctx context.Context, req *api.ModifyHostsCertificateRequest) (*api.ModifyHostsCertificateResponse, error)
}

// Deployer uploads a certificate and binds it to hosts.
type Deployer struct {
	SSL     CertUploader
	EdgeOne HostBinder
	Logger  *zap.Logger
}

// Upload stores a PEM chain and key as a server certificate and returns its
// id.
func (d *Deployer) Upload(ctx context.Context, chainPEM, keyPEM []byte, alias string) (string, error) {
	resp, err := d.SSL.UploadCertificate(ctx, &api.UploadCertificateRequest{
		CertificatePublicKey:  string(chainPEM),
		CertificatePrivateKey: string(keyPEM),
		CertificateType:       api.CertificateTypeServer,
		Alias:                 alias,
		AllowDownload:         false,
		Repeatable:            false,
	})
	if err != nil {
		return "", fmt.Errorf("upload certificate: %w", err)
	}
	if resp.RepeatCertId != "" {
		return "", &DuplicateCertificateError{Alias: alias, RepeatCertID: resp.RepeatCertId}
	}
	logging.OrNop(d.Logger).Info("certificate uploaded",
		zap.String("alias", alias),
		zap.String("cert_id", resp.CertificateId),
		logging.RequestID(resp.RequestId))
	return resp.CertificateId, nil
}

// Bind switches hosts of zone to the uploaded certificate certID.
func (d *Deployer) Bind(ctx context.Context, zone string, hosts []string, certID string) error {
	resp, err := d.EdgeOne.ModifyHostsCertificate(ctx, &api.ModifyHostsCertificateRequest{
		ZoneId:         zone,
		Hosts:          hosts,
		ServerCertInfo: []api.ServerCertInfo{{CertId: certID}},
		Mode:           api.CertModeSSL,
	})
	if err != nil {
		return fmt.Errorf("bind certificate: %w", err)
	}
	logging.OrNop(d.Logger).Info("certificate bound",
		logging.Zone(zone),
		zap.Strings("hosts", hosts),
		zap.String("cert_id", certID),
		logging.RequestID(resp.RequestId))
	return nil
}

// Deploy uploads the certificate and binds it.
func (d *Deployer) Deploy(ctx context.Context, chainPEM, keyPEM []byte, alias, zone string, hosts []string) (string, error) {
	certID, err := d.Upload(ctx, chainPEM, keyPEM, alias)
	if err != nil {
		return "", err
	}
	if err := d.Bind(ctx, zone, hosts, certID); err != nil {
		return certID, err
	}
	return certID, nil
}

// FileConfig is the JSON deployment file read by "cert upload".
type FileConfig struct {
	ZoneID        string   `json:"zone_id"`
	Hosts         []string `json:"hosts"`
	KeyPath       string   `json:"key_path"`
	FullchainPath string   `json:"fullchain_path"`
	AliasPrefix   string   `json:"alias_prefix"`
}

// LoadFileConfig reads a deployment file. Comments and trailing commas are
// allowed.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cert config: %w", err)
	}
	var cfg FileConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse cert config %s: %w", path, err)
	}
	if cfg.ZoneID == "" || len(cfg.Hosts) == 0 || cfg.KeyPath == "" || cfg.FullchainPath == "" {
		return nil, fmt.Errorf("cert config %s: zone_id, hosts, key_path and fullchain_path are required", path)
	}
	if cfg.AliasPrefix == "" {
		cfg.AliasPrefix = "teo"
	}
	return &cfg, nil
}

// ReadPair reads a PEM chain and key from disk.
func ReadPair(fullchainPath, keyPath string) (chainPEM, keyPEM []byte, err error) {
	chainPEM, err = os.ReadFile(fullchainPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read certificate chain: %w", err)
	}
	keyPEM, err = os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read private key: %w", err)
	}
	return chainPEM, keyPEM, nil
}
