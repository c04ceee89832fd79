package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKeySigner signs transactions with a local ECDSA key. It implements
// tracelot.Signer for the account identifier and signs the ledger's
// transactions with the EIP-155 signer.
type PrivateKeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewPrivateKeySigner creates a signer from a hex-encoded private key, with
// or without the 0x prefix.
func NewPrivateKeySigner(privateKeyHex string) (*PrivateKeySigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &PrivateKeySigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the signing account identifier as a hex string.
func (s *PrivateKeySigner) Address() string {
	return s.address.Hex()
}

// EthAddress returns the signing account as a go-ethereum address.
func (s *PrivateKeySigner) EthAddress() common.Address {
	return s.address
}

// SignTx signs a transaction for the given chain.
func (s *PrivateKeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.NewEIP155Signer(chainID), s.privateKey)
}
