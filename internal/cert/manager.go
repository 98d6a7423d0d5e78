package cert

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/caddyserver/certmagic"
	certmagicsqlite "github.com/rsclarke/certmagic-sqlite"
	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/logging"
)

// Manager obtains certificates over ACME DNS-01, publishing challenge
// records through an EdgeOne Provider. Certificates and ACME account state
// are kept in the ledger database.
type Manager struct {
	Email    string
	Staging  bool
	DB       *sql.DB
	Provider *Provider
	Logger   *zap.Logger
}

// SetLogger configures the global certmagic loggers.
func SetLogger(logger *zap.Logger) {
	logger = logging.OrNop(logger)
	certmagic.Default.Logger = logger
	certmagic.DefaultACME.Logger = logger
}

// Obtain obtains (or loads a still valid) certificate for domain and returns
// its PEM chain and private key.
func (m *Manager) Obtain(ctx context.Context, domain string) (chainPEM, keyPEM []byte, err error) {
	logger := logging.OrNop(m.Logger).Named("acme")
	SetLogger(logger)

	hostname, _ := os.Hostname()
	storage, err := certmagicsqlite.NewWithDB(m.DB, certmagicsqlite.WithOwnerID(hostname))
	if err != nil {
		return nil, nil, fmt.Errorf("create certmagic storage: %w", err)
	}

	cfg := certmagic.NewDefault()
	cfg.Storage = storage
	cfg.Logger = logger

	caURL := certmagic.LetsEncryptProductionCA
	if m.Staging {
		caURL = certmagic.LetsEncryptStagingCA
	}

	issuer := certmagic.NewACMEIssuer(cfg, certmagic.ACMEIssuer{
		CA:     caURL,
		Email:  m.Email,
		Agreed: true,
		Logger: logger,
		DNS01Solver: &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{
				DNSProvider: m.Provider,
				Logger:      logger,
			},
		},
	})
	cfg.Issuers = []certmagic.Issuer{issuer}

	if err := cfg.ObtainCertSync(ctx, domain); err != nil {
		return nil, nil, fmt.Errorf("obtain certificate for %s: %w", domain, err)
	}

	chainPEM, err = storage.Load(ctx, certmagic.StorageKeys.SiteCert(issuer.IssuerKey(), domain))
	if err != nil {
		return nil, nil, fmt.Errorf("load certificate for %s: %w", domain, err)
	}
	keyPEM, err = storage.Load(ctx, certmagic.StorageKeys.SitePrivateKey(issuer.IssuerKey(), domain))
	if err != nil {
		return nil, nil, fmt.Errorf("load private key for %s: %w", domain, err)
	}
	logger.Info("certificate ready", logging.Domain(domain))
	return chainPEM, keyPEM, nil
}
