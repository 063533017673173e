package service

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	bip39 "github.com/tyler-smith/go-bip39"
	"github.com/token_settlement/config"
)

// Signer holds one treasury signing key. The mutex serializes nonce
// acquisition and submission: two concurrent transfers from the same
// account would otherwise race on the same nonce.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	mu      sync.Mutex
}

func (s *Signer) Address() common.Address {
	return s.address
}

// NewSigner resolves a token's signing credential. A raw hex key wins;
// otherwise the key is derived from the mnemonic along the standard
// Ethereum path m/44'/60'/0'/0/index.
func NewSigner(tc config.TokenConfig) (*Signer, error) {
	switch {
	case tc.PrivateKey != "":
		key, err := crypto.HexToECDSA(strings.TrimPrefix(tc.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
	case tc.Mnemonic != "":
		key, err := deriveKey(tc.Mnemonic, tc.AddressIndex)
		if err != nil {
			return nil, fmt.Errorf("derive key from mnemonic: %w", err)
		}
		return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
	}
	return nil, ErrMissingCredential
}

func deriveKey(mnemonic string, index uint32) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	// m/44'/60'/0'/0/index
	child := master
	for _, step := range []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	} {
		child, err = child.Derive(step)
		if err != nil {
			return nil, err
		}
	}

	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return crypto.ToECDSA(priv.Serialize())
}
