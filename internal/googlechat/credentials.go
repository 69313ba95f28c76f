// Package googlechat posts build notifications to Google Chat spaces.
package googlechat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"filippo.io/age"
	"filippo.io/age/armor"

	"chatbot/internal/security"
)

// ageMagic starts every binary age file.
var ageMagic = []byte("age-encryption.org/")

// LoadCredentials reads a service-account key. An age-encrypted key, binary
// or ASCII-armored, is decrypted with the identities in identityFile.
// Key and identity files accessible to anyone but their owner are refused.
func LoadCredentials(credentialsFile, identityFile string, logger *slog.Logger) ([]byte, error) {
	if err := security.ValidateCredentialPermissions(credentialsFile); err != nil {
		return nil, fmt.Errorf("insecure credentials file: %w", err)
	}

	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	if isEncrypted(data) {
		if identityFile == "" {
			return nil, fmt.Errorf("credentials file %s is age-encrypted but no identity file is configured", credentialsFile)
		}
		data, err = decrypt(data, identityFile)
		if err != nil {
			return nil, err
		}
		logger.Info("Decrypted chat credentials", "path", credentialsFile, "identity", identityFile)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("credentials file %s does not contain JSON", credentialsFile)
	}

	return data, nil
}

func isEncrypted(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return bytes.HasPrefix(trimmed, ageMagic) || bytes.HasPrefix(trimmed, []byte(armor.Header))
}

func decrypt(data []byte, identityFile string) ([]byte, error) {
	if err := security.ValidateCredentialPermissions(identityFile); err != nil {
		return nil, fmt.Errorf("insecure age identity file: %w", err)
	}

	keys, err := os.Open(identityFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open age identity file: %w", err)
	}
	defer keys.Close()

	identities, err := age.ParseIdentities(keys)
	if err != nil {
		return nil, fmt.Errorf("failed to parse age identities: %w", err)
	}

	var src io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header)) {
		src = armor.NewReader(bytes.NewReader(bytes.TrimSpace(data)))
	}

	plain, err := age.Decrypt(src, identities...)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	out, err := io.ReadAll(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to read decrypted credentials: %w", err)
	}
	return out, nil
}
