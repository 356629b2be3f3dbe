package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

const (
	keychainService     = "fatrocu"
	accountExtractorKey = "extractor_api_key"
	accountAPIToken     = "api_token"

	envServerToken = "FATROCU_SERVER_TOKEN"
)

// Keychain reads and writes secrets in the platform secret store: macOS
// Keychain, or a 0600 JSON file under XDG_DATA_HOME elsewhere.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type platformKeychain struct{}

// NewKeychain returns the secret store for the current platform.
func NewKeychain() Keychain {
	return platformKeychain{}
}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token protecting the HTTP API. The
// FATROCU_SERVER_TOKEN environment variable wins; otherwise the token is read
// from the secret store and generated on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv(envServerToken); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(keychainService, accountAPIToken); err == nil && tok != "" {
		return tok, nil
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := strings.ReplaceAll(id.String(), "-", "")
	if err := kc.Set(keychainService, accountAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
