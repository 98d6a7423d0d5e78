package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/api"
	"github.com/stackinspector/teo-utils/internal/cert"
	"github.com/stackinspector/teo-utils/internal/config"
	"github.com/stackinspector/teo-utils/internal/db"
	"github.com/stackinspector/teo-utils/internal/tcapi"
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Deploy TLS certificates to EdgeOne hosts",
}

var certUploadFlags struct {
	configJSON  string
	credentials string
}

var certUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a certificate from disk and bind it to hosts",
	Long: `Upload the PEM certificate chain and key named in a deployment file to
the SSL service, then switch the listed hosts of the zone to it.

The deployment file is JSON (comments allowed):

  {
    "zone_id": "zone-xxxxxxxx",
    "hosts": ["www.example.com"],
    "key_path": "/etc/ssl/example.com/key.pem",
    "fullchain_path": "/etc/ssl/example.com/fullchain.pem",
    "alias_prefix": "teo"
  }

The certificate is named <alias_prefix>_<YYYYMMDD>.`,
	Args: cobra.NoArgs,
	RunE: runCertUpload,
}

var certIssueFlags struct {
	credentials string
	domain      string
	zoneID      string
	hosts       []string
	email       string
	staging     bool
	dbPath      string
}

var certIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Obtain a certificate over ACME and deploy it",
	Long: `Obtain a certificate for --domain from Let's Encrypt, answering the
DNS-01 challenge with a TXT record in the EdgeOne zone, then upload it and
bind it to the hosts of the zone. ACME account and certificate state is kept
in the SQLite ledger, so a still valid certificate is reused.

When cert.fullchain_path and cert.key_path are configured the PEM files are
also written there.`,
	Args: cobra.NoArgs,
	RunE: runCertIssue,
}

func init() {
	rootCmd.AddCommand(certCmd)
	certCmd.AddCommand(certUploadCmd)
	certCmd.AddCommand(certIssueCmd)

	certUploadCmd.Flags().StringVar(&certUploadFlags.configJSON, "config-json", "", "path to the deployment file")
	certUploadCmd.Flags().StringVar(&certUploadFlags.credentials, "credentials", "", "path to API credentials JSON file (env TEO_CREDENTIALS)")
	_ = certUploadCmd.MarkFlagRequired("config-json")

	certIssueCmd.Flags().StringVar(&certIssueFlags.credentials, "credentials", "", "path to API credentials JSON file (env TEO_CREDENTIALS)")
	certIssueCmd.Flags().StringVar(&certIssueFlags.domain, "domain", "", "domain to obtain a certificate for (default first of cert.acme.domains)")
	certIssueCmd.Flags().StringVar(&certIssueFlags.zoneID, "zone-id", "", "EdgeOne zone id holding the domain")
	certIssueCmd.Flags().StringSliceVar(&certIssueFlags.hosts, "hosts", nil, "hosts to bind the certificate to (default the domain)")
	certIssueCmd.Flags().StringVar(&certIssueFlags.email, "email", "", "email for Let's Encrypt notifications")
	certIssueCmd.Flags().BoolVar(&certIssueFlags.staging, "staging", false, "use the Let's Encrypt staging CA")
	certIssueCmd.Flags().StringVar(&certIssueFlags.dbPath, "db", "", "path to the SQLite ledger (env TEO_DB)")
}

func newAPIClient(c *config.Config) (*tcapi.Client, error) {
	creds, err := tcapi.LoadCredentials(c.Credentials)
	if err != nil {
		return nil, err
	}
	client := tcapi.NewClient(creds, logger)
	client.Region = c.Region
	return client, nil
}

func runCertUpload(cmd *cobra.Command, args []string) error {
	overrideString(cmd.Flags(), "credentials", "TEO_CREDENTIALS", certUploadFlags.credentials, &cfg.Credentials)

	fc, err := cert.LoadFileConfig(certUploadFlags.configJSON)
	if err != nil {
		return err
	}
	chainPEM, keyPEM, err := cert.ReadPair(fc.FullchainPath, fc.KeyPath)
	if err != nil {
		return err
	}
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	d := &cert.Deployer{
		SSL:     &api.SSL{Caller: client},
		EdgeOne: &api.EdgeOne{Caller: client},
		Logger:  logger.Named("cert"),
	}
	certID, err := d.Deploy(cmd.Context(), chainPEM, keyPEM, cert.Alias(fc.AliasPrefix, time.Now()), fc.ZoneID, fc.Hosts)
	if err != nil {
		return err
	}
	fmt.Println(certID)
	return nil
}

func runCertIssue(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	overrideString(f, "credentials", "TEO_CREDENTIALS", certIssueFlags.credentials, &cfg.Credentials)
	overrideString(f, "db", "TEO_DB", certIssueFlags.dbPath, &cfg.Ledger.Path)
	overrideString(f, "zone-id", "", certIssueFlags.zoneID, &cfg.Cert.ZoneID)
	overrideString(f, "email", "", certIssueFlags.email, &cfg.Cert.ACME.Email)
	if f.Changed("hosts") {
		cfg.Cert.Hosts = certIssueFlags.hosts
	}
	if f.Changed("staging") {
		cfg.Cert.ACME.Staging = certIssueFlags.staging
	}

	domain := certIssueFlags.domain
	if domain == "" && len(cfg.Cert.ACME.Domains) > 0 {
		domain = cfg.Cert.ACME.Domains[0]
	}
	if domain == "" {
		return errors.New("domain required (use --domain flag or cert.acme.domains)")
	}
	if cfg.Cert.ZoneID == "" {
		return errors.New("zone id required (use --zone-id flag or cert.zone_id)")
	}
	if cfg.Ledger.Path == "" {
		return errors.New("ledger path required for ACME storage (use --db flag, TEO_DB env var or ledger.path)")
	}
	hosts := cfg.Cert.Hosts
	if len(hosts) == 0 {
		hosts = []string{domain}
	}

	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	eo := &api.EdgeOne{Caller: client}

	database, err := db.Open(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer database.Close()

	m := &cert.Manager{
		Email:    cfg.Cert.ACME.Email,
		Staging:  cfg.Cert.ACME.Staging,
		DB:       database,
		Provider: cert.NewProvider(eo, cfg.Cert.ZoneID),
		Logger:   logger,
	}
	chainPEM, keyPEM, err := m.Obtain(cmd.Context(), domain)
	if err != nil {
		return err
	}

	if cfg.Cert.FullchainPath != "" && cfg.Cert.KeyPath != "" {
		if err := writePair(cfg.Cert.FullchainPath, cfg.Cert.KeyPath, chainPEM, keyPEM); err != nil {
			return err
		}
		logger.Info("certificate written", zap.String("fullchain", cfg.Cert.FullchainPath), zap.String("key", cfg.Cert.KeyPath))
	}

	d := &cert.Deployer{
		SSL:     &api.SSL{Caller: client},
		EdgeOne: eo,
		Logger:  logger.Named("cert"),
	}
	certID, err := d.Deploy(cmd.Context(), chainPEM, keyPEM, cert.Alias(cfg.Cert.AliasPrefix, time.Now()), cfg.Cert.ZoneID, hosts)
	var dup *cert.DuplicateCertificateError
	if errors.As(err, &dup) {
		// The CA returned a certificate that is already uploaded; rebind it.
		logger.Info("certificate already uploaded", zap.String("cert_id", dup.RepeatCertID))
		certID = dup.RepeatCertID
		err = d.Bind(cmd.Context(), cfg.Cert.ZoneID, hosts, certID)
	}
	if err != nil {
		return err
	}
	fmt.Println(certID)
	return nil
}

func writePair(fullchainPath, keyPath string, chainPEM, keyPEM []byte) error {
	for _, p := range []string{fullchainPath, keyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create certificate directory: %w", err)
		}
	}
	if err := os.WriteFile(fullchainPath, chainPEM, 0o644); err != nil {
		return fmt.Errorf("write certificate chain: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}
