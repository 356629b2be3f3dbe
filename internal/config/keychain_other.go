//go:build !darwin

package config

import (
	"errors"
	"fmt"
	"os"
)

// Without a system keychain, secrets live in a 0600 JSON file keyed by
// service and then account.
type secretsFile map[string]map[string]string

func keychainGet(service, account string) ([]byte, error) {
	var secrets secretsFile
	if err := readJSONFile(secretsFilePath(), &secrets); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no secret stored for %s/%s", service, account)
		}
		return nil, err
	}
	val, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret stored for %s/%s", service, account)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	p := secretsFilePath()
	secrets := make(secretsFile)
	if err := readJSONFile(p, &secrets); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value
	return writeJSONFile(p, secrets)
}
