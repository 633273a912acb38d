package common

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

const SignatureLength = crypto.SignatureLength

var ErrInvalidSignature = errors.New("invalid signature")

// Signature is a 65-byte [R || S || V] secp256k1 signature.
type Signature [SignatureLength]byte

func (s Signature) Bytes() []byte {
	return s[:]
}

// SignedDigest returns the digest that is actually signed for a message
// hash, using the Ethereum personal-message prefix.
func SignedDigest(messageHash Hash) Hash {
	return Keccak256([]byte("\x19Ethereum Signed Message:\n32"), messageHash.Bytes())
}

// EthSign signs messageHash using the provided private key in hex format.
func EthSign(privateKeyHex string, messageHash Hash) (Signature, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return Signature{}, fmt.Errorf("error converting private key: %v", err)
	}
	return Sign(privateKey, messageHash)
}

// Sign signs messageHash with privateKey.
func Sign(privateKey *ecdsa.PrivateKey, messageHash Hash) (Signature, error) {
	digest := SignedDigest(messageHash)
	sig, err := crypto.Sign(digest.Bytes(), privateKey)
	if err != nil {
		return Signature{}, fmt.Errorf("error signing the hash: %v", err)
	}
	var out Signature
	copy(out[:], sig)
	return out, nil
}

// RecoverSigner returns the address whose key produced signature over
// messageHash. Both the 0/1 and 27/28 recovery id conventions are accepted.
func RecoverSigner(messageHash Hash, signature Signature) (Address, error) {
	sig := make([]byte, SignatureLength)
	copy(sig, signature[:])
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return Address{}, ErrInvalidSignature
	}
	digest := SignedDigest(messageHash)
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return Address(crypto.PubkeyToAddress(*pub)), nil
}

// PrivateKeyAddress returns the address of a hex encoded private key.
func PrivateKeyAddress(privateKeyHex string) (Address, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return Address{}, fmt.Errorf("error converting private key: %v", err)
	}
	return Address(crypto.PubkeyToAddress(privateKey.PublicKey)), nil
}
