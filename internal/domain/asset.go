package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AssetID identifies a pre-market asset. It is the keccak256 hash of the
// asset's human-readable name.
type AssetID = common.Hash

// AssetIDFromName derives the stable identifier for a pre-market asset name.
func AssetIDFromName(name string) AssetID {
	return crypto.Keccak256Hash([]byte(name))
}

// Asset is a handle to something that can be moved by an AssetGateway: either
// the chain's native currency or a fungible token contract.
type Asset struct {
	token  common.Address
	native bool
}

// Native returns the native-currency asset.
func Native() Asset { return Asset{native: true} }

// Token returns the fungible-token asset at addr.
func Token(addr common.Address) Asset { return Asset{token: addr} }

// IsNative reports whether a is the native currency.
func (a Asset) IsNative() bool { return a.native }

// IsZero reports whether a is the zero value (neither native nor a token).
func (a Asset) IsZero() bool { return !a.native && a.token == (common.Address{}) }

// Address returns the token contract address, or the zero address for the
// native currency.
func (a Asset) Address() common.Address { return a.token }

// nativeLabel is the text form of the native currency.
const nativeLabel = "native"

// String returns "native" or the checksummed token address.
func (a Asset) String() string {
	if a.native {
		return nativeLabel
	}
	return a.token.Hex()
}

// ParseAsset parses the output of Asset.String. The zero address is accepted
// as an alias for the native currency.
func ParseAsset(s string) (Asset, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, nativeLabel) {
		return Native(), nil
	}
	if !common.IsHexAddress(s) {
		return Asset{}, fmt.Errorf("domain: invalid asset %q", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return Native(), nil
	}
	return Token(addr), nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Asset) UnmarshalText(text []byte) error {
	parsed, err := ParseAsset(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// PreMarketAsset is a registered asset that trades before it is deliverable.
// DeliverableAsset stays nil until settlement opens and is set at most once.
type PreMarketAsset struct {
	ID               AssetID
	Name             string
	SettlementWindow time.Duration
	DeliverableAsset *common.Address
	OpenedAt         *time.Time
	CreatedAt        time.Time
}

// SettlementOpen reports whether the deliverable asset has been bound.
func (a PreMarketAsset) SettlementOpen() bool {
	return a.DeliverableAsset != nil && a.OpenedAt != nil
}

// Deadline returns openedAt + settlementWindow. ok is false while settlement
// has not opened.
func (a PreMarketAsset) Deadline() (deadline time.Time, ok bool) {
	if !a.SettlementOpen() {
		return time.Time{}, false
	}
	return a.OpenedAt.Add(a.SettlementWindow), true
}
