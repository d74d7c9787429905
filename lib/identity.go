package lib

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
	"golang.org/x/crypto/blake2b"
)

// Principal is the 32-byte identity derived from a caller's public key —
// the stand-in for the identity/caller-resolution collaborator that §1/§6
// mark out of scope but that User{principal, account_id} (§3) still needs
// a concrete value for.
type Principal [32]byte

// AccountID is a second derivation of a Principal plus an optional
// subaccount, standing in for ICP's account-identifier scheme: the same
// principal can hold several independently-addressable accounts.
type AccountID [32]byte

// KeyPair is an ML-DSA87 (post-quantum) signing keypair.
type KeyPair struct {
	PublicKey  *mldsa87.PublicKey
	PrivateKey *mldsa87.PrivateKey
}

// GenerateKeyPair creates a fresh random ML-DSA87 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := mldsa87.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// GenerateKeyPairFromSeed deterministically derives a keypair from a
// 32-byte seed, so the same keypair can be reproduced without storing key
// material. Nothing in this repository calls it.
func GenerateKeyPairFromSeed(seed [32]byte) *KeyPair {
	pub, priv := mldsa87.NewKeyFromSeed(&seed)
	return &KeyPair{PublicKey: pub, PrivateKey: priv}
}

// Sign signs message with the keypair's private key.
func (kp *KeyPair) Sign(message []byte) ([]byte, error) {
	return kp.SignWithContext(message, nil)
}

// SignWithContext signs message, binding the signature to context so it
// cannot be replayed against a different protocol/domain.
func (kp *KeyPair) SignWithContext(message, context []byte) ([]byte, error) {
	sig := make([]byte, mldsa87.SignatureSize)
	if err := mldsa87.SignToWithContext(kp.PrivateKey, message, context, make([]byte, 0), sig); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// VerifySignature verifies sig over message against pub.
func VerifySignature(message, sig []byte, pub *mldsa87.PublicKey) bool {
	return VerifySignatureWithContext(message, nil, sig, pub)
}

// VerifySignatureWithContext verifies sig over message, bound to context,
// against pub.
func VerifySignatureWithContext(message, context, sig []byte, pub *mldsa87.PublicKey) bool {
	return mldsa87.VerifyWithContext(pub, message, context, sig)
}

// Principal derives the caller's Principal from its public key, matching
// the teacher's DeriveAddress(publicKey) -> BLAKE2b-256 technique.
func (kp *KeyPair) Principal() Principal {
	return DerivePrincipal(kp.PublicKey)
}

// DerivePrincipal derives a Principal from an ML-DSA87 public key via
// BLAKE2b-256, the same hash construction the teacher uses for addresses.
func DerivePrincipal(pub *mldsa87.PublicKey) Principal {
	raw, _ := pub.MarshalBinary()
	h := blake2b.Sum256(raw)
	return Principal(h)
}

// DefaultAccount returns the AccountID for a principal's default (all-zero)
// subaccount.
func (p Principal) DefaultAccount() AccountID {
	return p.Account([32]byte{})
}

// Account derives the AccountID for principal p and the given subaccount —
// a second BLAKE2b-256 derivation over principal||subaccount.
func (p Principal) Account(subaccount [32]byte) AccountID {
	h, _ := blake2b.New256(nil)
	h.Write(p[:])
	h.Write(subaccount[:])
	var out AccountID
	copy(out[:], h.Sum(nil))
	return out
}

// String renders the Principal using the same checksum-string scheme as
// AccountID.String: hex body plus a mixed-case EIP-55-style checksum and a
// trailing Luhn check digit, so a typo in either is caught without a
// lookup.
func (p Principal) String() string {
	return checksumEncode(p[:])
}

// String renders the AccountID the same way as Principal.String.
func (a AccountID) String() string {
	return checksumEncode(a[:])
}

func checksumEncode(raw []byte) string {
	hexBody := fmt.Sprintf("%x", raw)
	checksummed := applyEIP55Checksum(hexBody, raw)
	digit := calculateLuhnChecksum(checksummed)
	return checksummed + strconv.Itoa(digit)
}

// applyEIP55Checksum mixes the case of hexBody's letters according to a
// BLAKE2b-256 hash of the lowercase hex string: character i is checked
// against nibble i of the hash (the high nibble of byte i/2 for even i, the
// low nibble for odd i) — the same construction Ethereum's EIP-55 uses for
// addresses.
func applyEIP55Checksum(hexBody string, raw []byte) string {
	hash := blake2b.Sum256([]byte(hexBody))
	var b strings.Builder
	for i, c := range hexBody {
		if c >= 'a' && c <= 'f' {
			nibble := hash[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x8 != 0 {
				b.WriteRune(c - ('a' - 'A'))
				continue
			}
		}
		b.WriteRune(c)
	}
	return b.String()
}

// calculateLuhnChecksum computes a single base-10 Luhn check digit over the
// ASCII bytes of s, catching single-character and adjacent-transposition
// typos when a principal/account string is typed by hand.
func calculateLuhnChecksum(s string) int {
	sum := 0
	double := true
	for i := len(s) - 1; i >= 0; i-- {
		d := int(s[i])
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}

// ParsePrincipal parses a checksummed Principal string produced by
// Principal.String, validating both the checksum case and the trailing
// Luhn digit.
func ParsePrincipal(s string) (Principal, error) {
	raw, err := parseChecksummed(s)
	if err != nil {
		return Principal{}, err
	}
	if len(raw) != 32 {
		return Principal{}, fmt.Errorf("principal must decode to 32 bytes, got %d", len(raw))
	}
	var p Principal
	copy(p[:], raw)
	return p, nil
}

// ParseAccountID parses a checksummed AccountID string.
func ParseAccountID(s string) (AccountID, error) {
	raw, err := parseChecksummed(s)
	if err != nil {
		return AccountID{}, err
	}
	if len(raw) != 32 {
		return AccountID{}, fmt.Errorf("account id must decode to 32 bytes, got %d", len(raw))
	}
	var a AccountID
	copy(a[:], raw)
	return a, nil
}

func parseChecksummed(s string) ([]byte, error) {
	if len(s) < 2 {
		return nil, fmt.Errorf("identity string too short")
	}
	hexBody, digitStr := s[:len(s)-1], s[len(s)-1:]
	digit, err := strconv.Atoi(digitStr)
	if err != nil {
		return nil, fmt.Errorf("invalid check digit: %w", err)
	}

	raw := make([]byte, len(hexBody)/2)
	if _, err := fmt.Sscanf(strings.ToLower(hexBody), "%x", &raw); err != nil {
		return nil, fmt.Errorf("invalid hex body: %w", err)
	}

	expected := applyEIP55Checksum(strings.ToLower(hexBody), raw)
	if !hasMixedCase(hexBody) || expected != hexBody {
		return nil, fmt.Errorf("checksum mismatch")
	}
	if calculateLuhnChecksum(hexBody) != digit {
		return nil, fmt.Errorf("check digit mismatch")
	}
	return raw, nil
}

func hasMixedCase(s string) bool {
	hasUpper, hasLower := false, false
	for _, c := range s {
		if c >= 'A' && c <= 'F' {
			hasUpper = true
		}
		if c >= 'a' && c <= 'f' {
			hasLower = true
		}
	}
	return hasUpper || hasLower
}

// CurrentTimestampNanos returns the current wall-clock time in nanoseconds
// since the Unix epoch, the time unit used throughout the request/tx/claim
// ledgers (matching the teacher's GetCurrentTimestamp helper).
func CurrentTimestampNanos() int64 {
	return time.Now().UnixNano()
}
