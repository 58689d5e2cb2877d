// Package identity implements the node's cryptographic identity: a
// curve25519 keypair plus the 40-bit overlay address derived from the public
// key. The engine treats these as opaque operations; no protocol logic lives
// here.
package identity

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"

	"meshnode/internal/meshnode/domain"
)

// ErrInvalidIdentity is returned when parsing or validating an identity fails.
var ErrInvalidIdentity = errors.New("invalid identity")

// ErrNoPrivateKey is returned when a secret-key operation is attempted on a
// public-only identity.
var ErrNoPrivateKey = errors.New("identity has no private key")

// typeC25519 is the only identity type currently defined.
const typeC25519 = 0

// Identity is a node identity. The private key is present only for this
// node's own identity; peer identities are public-only.
type Identity struct {
	address domain.Address
	public  [32]byte
	private []byte // nil for public-only identities
}

// Generate creates a new identity, retrying key generation until the
// derived address is not reserved.
func Generate() (*Identity, error) {
	for {
		private := make([]byte, 32)
		if _, err := rand.Read(private); err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		publicSlice, err := curve25519.X25519(private, curve25519.Basepoint)
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		var public [32]byte
		copy(public[:], publicSlice)

		addr := deriveAddress(public)
		if addr.IsReserved() {
			continue
		}
		return &Identity{address: addr, public: public, private: private}, nil
	}
}

// NewFromString parses "address:0:publichex" or
// "address:0:publichex:privatehex".
func NewFromString(s string) (*Identity, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 && len(parts) != 4 {
		return nil, ErrInvalidIdentity
	}
	addr, err := domain.NewAddressFromString(parts[0])
	if err != nil {
		return nil, ErrInvalidIdentity
	}
	if parts[1] != "0" {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidIdentity, parts[1])
	}
	pub, err := hex.DecodeString(parts[2])
	if err != nil || len(pub) != 32 {
		return nil, ErrInvalidIdentity
	}
	id := &Identity{address: addr}
	copy(id.public[:], pub)

	// The address is not free-form: it must match the public key.
	if deriveAddress(id.public) != addr || addr.IsReserved() {
		return nil, fmt.Errorf("%w: address does not match key", ErrInvalidIdentity)
	}

	if len(parts) == 4 {
		priv, err := hex.DecodeString(parts[3])
		if err != nil || len(priv) != 32 {
			return nil, ErrInvalidIdentity
		}
		id.private = priv
	}
	return id, nil
}

// Address returns the identity's 40-bit overlay address.
func (id *Identity) Address() domain.Address { return id.address }

// PublicKey returns the curve25519 public key.
func (id *Identity) PublicKey() [32]byte { return id.public }

// HasPrivate reports whether the private key is present.
func (id *Identity) HasPrivate() bool { return id.private != nil }

// Public returns a copy of this identity without its private key.
func (id *Identity) Public() *Identity {
	return &Identity{address: id.address, public: id.public}
}

// String returns the public textual form: "address:0:publichex".
func (id *Identity) String() string {
	return fmt.Sprintf("%s:%d:%s", id.address.String(), typeC25519, hex.EncodeToString(id.public[:]))
}

// PrivateString returns the full secret form, for the state store only.
func (id *Identity) PrivateString() (string, error) {
	if id.private == nil {
		return "", ErrNoPrivateKey
	}
	return id.String() + ":" + hex.EncodeToString(id.private), nil
}

// Agree computes the 32-byte shared session key with a peer identity:
// curve25519 ECDH followed by a SHA-512 KDF.
func (id *Identity) Agree(peer *Identity) ([32]byte, error) {
	var key [32]byte
	if id.private == nil {
		return key, ErrNoPrivateKey
	}
	shared, err := curve25519.X25519(id.private, peer.public[:])
	if err != nil {
		return key, fmt.Errorf("key agreement: %w", err)
	}
	digest := sha512.Sum512(shared)
	copy(key[:], digest[:32])
	return key, nil
}

// Fingerprint is the full-strength identifier of an identity: its address
// plus a hash of its public key. Used to pin a network's controller at join
// time so a later impersonation attempt is detectable.
type Fingerprint struct {
	Address domain.Address `json:"address"`
	Hash    [32]byte       `json:"hash"`
}

// NewFingerprintFromString parses the "address-hashhex" form produced by
// Fingerprint.String.
func NewFingerprintFromString(s string) (Fingerprint, error) {
	var fp Fingerprint
	addrStr, hashStr, found := strings.Cut(strings.TrimSpace(s), "-")
	if !found {
		return fp, fmt.Errorf("%w: fingerprint", ErrInvalidIdentity)
	}
	addr, err := domain.NewAddressFromString(addrStr)
	if err != nil {
		return fp, fmt.Errorf("%w: fingerprint address", ErrInvalidIdentity)
	}
	hash, err := hex.DecodeString(hashStr)
	if err != nil || len(hash) != 32 {
		return fp, fmt.Errorf("%w: fingerprint hash", ErrInvalidIdentity)
	}
	fp.Address = addr
	copy(fp.Hash[:], hash)
	return fp, nil
}

// Fingerprint returns this identity's fingerprint.
func (id *Identity) Fingerprint() Fingerprint {
	digest := sha512.Sum512(id.public[:])
	fp := Fingerprint{Address: id.address}
	copy(fp.Hash[:], digest[:32])
	return fp
}

// Equal reports whether two fingerprints match exactly.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Address == other.Address && f.Hash == other.Hash
}

// String returns "address-hashhex".
func (f Fingerprint) String() string {
	return f.Address.String() + "-" + hex.EncodeToString(f.Hash[:])
}

// deriveAddress computes the 40-bit address from a public key: the first
// five bytes of SHA-512 over the key.
func deriveAddress(public [32]byte) domain.Address {
	digest := sha512.Sum512(public[:])
	addr, _ := domain.NewAddressFromBytes(digest[:5])
	return addr
}
