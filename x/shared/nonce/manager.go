// Package nonce provides a registry of one-time nonces for replay prevention.
// A nonce is bound to its owner and, once consumed, can never be used by that
// owner again.
package nonce

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	storetypes "cosmossdk.io/store/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"golang.org/x/crypto/sha3"
)

const (
	// UsedNoncePrefix is the prefix for consumed nonce markers
	UsedNoncePrefix = "nonce"

	// MaxNonceLength bounds the raw nonce accepted by Use
	MaxNonceLength = 256

	// HashLength is the length of a stored nonce digest
	HashLength = 32
)

// ErrorProvider allows modules to provide their own error types while using shared nonce logic.
// Each module implements this interface to wrap errors with their module-specific error types.
type ErrorProvider interface {
	// InvalidNonceError returns an error for a malformed nonce with the given message
	InvalidNonceError(msg string) error
	// NonceAlreadyUsedError returns an error for a replayed nonce with the given message
	NonceAlreadyUsedError(msg string) error
}

// Manager records consumed nonces per owner. Only the Keccak-256 digest of a
// nonce is stored.
type Manager struct {
	storeKey      storetypes.StoreKey
	errorProvider ErrorProvider
	moduleName    string
}

// NewManager creates a new nonce manager for a module.
// storeKey: the module's store key for persistence
// errorProvider: module-specific error type provider
// moduleName: the module name (used as default owner for normalization)
func NewManager(storeKey storetypes.StoreKey, errorProvider ErrorProvider, moduleName string) *Manager {
	return &Manager{
		storeKey:      storeKey,
		errorProvider: errorProvider,
		moduleName:    moduleName,
	}
}

// Hash returns the digest under which a nonce is recorded.
func Hash(nonce []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(nonce)
	return h.Sum(nil)
}

func (m *Manager) store(ctx context.Context) storetypes.KVStore {
	return sdk.UnwrapSDKContext(ctx).KVStore(m.storeKey)
}

// usedNonceKey generates the store key marking a nonce digest as consumed
func (m *Manager) usedNonceKey(owner string, hash []byte) []byte {
	return []byte(fmt.Sprintf("%s/%s/%x", UsedNoncePrefix, m.normalizeOwner(owner), hash))
}

// normalizeOwner ensures owner is never empty (uses module name as default)
func (m *Manager) normalizeOwner(owner string) string {
	if owner == "" {
		return m.moduleName
	}
	return owner
}

// IsUsed reports whether owner has already consumed nonce.
func (m *Manager) IsUsed(ctx context.Context, owner string, nonce []byte) bool {
	return m.store(ctx).Has(m.usedNonceKey(owner, Hash(nonce)))
}

// Check validates nonce for owner without consuming it.
func (m *Manager) Check(ctx context.Context, owner string, nonce []byte) error {
	if len(nonce) == 0 {
		return m.errorProvider.InvalidNonceError("nonce cannot be empty")
	}
	if len(nonce) > MaxNonceLength {
		return m.errorProvider.InvalidNonceError(fmt.Sprintf(
			"nonce too long: %d bytes (max: %d bytes)", len(nonce), MaxNonceLength))
	}
	if m.IsUsed(ctx, owner, nonce) {
		return m.errorProvider.NonceAlreadyUsedError(fmt.Sprintf(
			"nonce %x already used by %s", Hash(nonce)[:8], m.normalizeOwner(owner)))
	}
	return nil
}

// Use consumes nonce for owner. It fails if the nonce is malformed or was
// consumed before, in which case nothing is written.
func (m *Manager) Use(ctx context.Context, owner string, nonce []byte) error {
	if err := m.Check(ctx, owner, nonce); err != nil {
		return err
	}
	m.markUsed(ctx, owner, Hash(nonce))
	return nil
}

// MarkUsedHash records an already hashed nonce, used on genesis import.
func (m *Manager) MarkUsedHash(ctx context.Context, owner string, hash []byte) error {
	if len(hash) != HashLength {
		return m.errorProvider.InvalidNonceError(fmt.Sprintf(
			"nonce hash must be %d bytes, got %d", HashLength, len(hash)))
	}
	m.markUsed(ctx, owner, hash)
	return nil
}

func (m *Manager) markUsed(ctx context.Context, owner string, hash []byte) {
	height := sdk.UnwrapSDKContext(ctx).BlockHeight()
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, uint64(max(height, 0)))
	m.store(ctx).Set(m.usedNonceKey(owner, hash), bz)
}

// Iterate visits every consumed nonce in key order.
func (m *Manager) Iterate(ctx context.Context, cb func(owner string, hash []byte) (stop bool)) {
	iterator := storetypes.KVStorePrefixIterator(m.store(ctx), []byte(UsedNoncePrefix+"/"))
	defer iterator.Close()

	for ; iterator.Valid(); iterator.Next() {
		owner, hash := extractOwnerHashFromKey(iterator.Key(), UsedNoncePrefix)
		if owner == "" {
			continue // Invalid key format
		}
		if cb(owner, hash) {
			break
		}
	}
}

// extractOwnerHashFromKey parses owner and digest from a prefixed key.
// Key format: prefix/owner/hexhash
// Returns empty values if key format is invalid.
func extractOwnerHashFromKey(key []byte, prefix string) (owner string, hash []byte) {
	remainder, ok := strings.CutPrefix(string(key), prefix+"/")
	if !ok {
		return "", nil
	}
	parts := strings.Split(remainder, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", nil
	}
	hash, err := hex.DecodeString(parts[1])
	if err != nil || len(hash) != HashLength {
		return "", nil
	}
	return parts[0], hash
}
