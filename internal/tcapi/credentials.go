package tcapi

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/tidwall/jsonc"
	"go.uber.org/zap/zapcore"
)

// Credentials is a Tencent Cloud API key pair.
type Credentials struct {
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
}

// LoadCredentials reads a JSON credentials file. Comments and trailing
// commas are accepted.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(jsonc.ToJSON(data), &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("credentials %s: %w", path, err)
	}
	return creds, nil
}

// Validate reports whether both halves of the key pair are present.
func (c Credentials) Validate() error {
	if c.SecretID == "" {
		return errors.New("secret_id is empty")
	}
	if c.SecretKey == "" {
		return errors.New("secret_key is empty")
	}
	return nil
}

// String never includes the secret key.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{SecretID: %s, SecretKey: [redacted]}", c.SecretID)
}

// GoString never includes the secret key.
func (c Credentials) GoString() string {
	return c.String()
}

// MarshalLogObject lets Credentials be passed to zap.Object without leaking
// the secret key.
func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("secret_id", c.SecretID)
	return nil
}
