package chain

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
)

// KeySpec locates an encrypted keystore file and its password file.
type KeySpec struct {
	KeyFile  string
	PassFile string
}

// ParseKeySpec parses "key_file=/path/key.json,pass_file=/path/pass.txt".
// pass_file is optional; an empty password is used when it is missing.
func ParseKeySpec(s string) (KeySpec, error) {
	var spec KeySpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return KeySpec{}, fmt.Errorf("invalid key spec entry %q", part)
		}
		switch strings.TrimSpace(name) {
		case "key_file":
			spec.KeyFile = strings.TrimSpace(value)
		case "pass_file":
			spec.PassFile = strings.TrimSpace(value)
		default:
			return KeySpec{}, fmt.Errorf("unknown key spec field %q", name)
		}
	}
	if spec.KeyFile == "" {
		return KeySpec{}, fmt.Errorf("key spec requires key_file")
	}
	return spec, nil
}

// LoadKey decrypts the keystore file and checks it belongs to from.
func LoadKey(spec KeySpec, from common.Address) (*ecdsa.PrivateKey, error) {
	keyJSON, err := os.ReadFile(spec.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var password string
	if spec.PassFile != "" {
		raw, err := os.ReadFile(spec.PassFile)
		if err != nil {
			return nil, fmt.Errorf("read pass file: %w", err)
		}
		password = strings.TrimRight(string(raw), "\r\n")
	}

	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt key: %w", err)
	}
	if key.Address != from {
		return nil, fmt.Errorf("key file is for %s, not %s", key.Address.Hex(), from.Hex())
	}
	return key.PrivateKey, nil
}
