package publish

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParseAddress accepts a 20-byte hex address. Mixed-case input must carry a
// valid EIP-55 checksum; all-lower or all-upper input is accepted as is.
func ParseAddress(v string) (common.Address, error) {
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid address: %s", v)
	}
	addr := common.HexToAddress(v)
	body := strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr.Hex()[2:] != body {
		return common.Address{}, fmt.Errorf("address checksum mismatch: %s", v)
	}
	return addr, nil
}

// ParsePrivateKey decodes a hex private key and derives its address.
func ParsePrivateKey(v string) (*ecdsa.PrivateKey, common.Address, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	key, err := crypto.HexToECDSA(v)
	if err != nil {
		// The decode error can quote key bytes; keep it out of logs.
		return nil, common.Address{}, errors.New("parse private key: malformed key")
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}
