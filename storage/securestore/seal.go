package securestore

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// sealer wraps values in the Ethereum v3 keystore cipher (scrypt key
// derivation, AES-128-CTR, keccak MAC) under a device passphrase.
type sealer struct {
	passphrase string
	scryptN    int
	scryptP    int
}

func newSealer(passphrase string) (sealer, error) {
	if passphrase == "" {
		return sealer{}, fmt.Errorf("securestore: passphrase required")
	}
	return sealer{
		passphrase: passphrase,
		scryptN:    keystore.LightScryptN,
		scryptP:    keystore.LightScryptP,
	}, nil
}

func (s sealer) seal(key string, value []byte) ([]byte, error) {
	envelope, err := keystore.EncryptDataV3(value, []byte(s.passphrase), s.scryptN, s.scryptP)
	if err != nil {
		return nil, fmt.Errorf("seal %s: %w", key, err)
	}
	sealed, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	return sealed, nil
}

func (s sealer) unseal(key string, sealed []byte) ([]byte, error) {
	var envelope keystore.CryptoJSON
	if err := json.Unmarshal(sealed, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	plain, err := keystore.DecryptDataV3(envelope, s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("unseal %s: %w", key, err)
	}
	return plain, nil
}
