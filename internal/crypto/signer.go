package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request authentication headers.
const (
	HeaderAddress   = "X-OTC-Address"
	HeaderTimestamp = "X-OTC-Timestamp"
	HeaderSignature = "X-OTC-Signature"
)

// ErrBadSignature is returned when a signature cannot be decoded or
// recovered.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer signs API requests with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner wraps key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// NewSignerFromHex parses a hex private key, with or without 0x.
func NewSignerFromHex(privateKeyHex string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSigner(key), nil
}

// Address returns the signer's account.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest signs the canonical request message and returns the 65-byte
// signature as 0x-prefixed hex with v in {27, 28}.
func (s *Signer) SignRequest(method, path string, timestamp int64, body []byte) (string, error) {
	return s.signDigest(RequestDigest(method, path, timestamp, body))
}

// Headers returns the authentication headers for a request.
func (s *Signer) Headers(method, path string, timestamp int64, body []byte) (map[string]string, error) {
	sig, err := s.SignRequest(method, path, timestamp, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderTimestamp: strconv.FormatInt(timestamp, 10),
		HeaderSignature: sig,
	}, nil
}

// RequestMessage is the text a client signs:
//
//	METHOD\nPATH\nTIMESTAMP\nkeccak256(body) as 0x hex
func RequestMessage(method, path string, timestamp int64, body []byte) string {
	return strings.ToUpper(method) + "\n" +
		path + "\n" +
		strconv.FormatInt(timestamp, 10) + "\n" +
		ethcrypto.Keccak256Hash(body).Hex()
}

// RequestDigest is the EIP-191 personal-message hash of RequestMessage.
func RequestDigest(method, path string, timestamp int64, body []byte) []byte {
	return personalHash([]byte(RequestMessage(method, path, timestamp, body)))
}

// RecoverRequest returns the address that produced sigHex over the request.
func RecoverRequest(method, path string, timestamp int64, body []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(RequestDigest(method, path, timestamp, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// personalHash computes keccak256("\x19Ethereum Signed Message:\n" || len || msg).
func personalHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return ethcrypto.Keccak256([]byte(prefix), msg)
}

// signDigest signs a 32-byte digest and returns r || s || v as hex.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets use {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}
