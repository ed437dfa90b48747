package types

import (
	"bytes"

	"golang.org/x/crypto/sha3"
)

// CommitmentLength is the size of a result commitment.
const CommitmentLength = 32

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// ComputeCommitment binds a result to a one-time nonce.
func ComputeCommitment(result, nonce []byte) []byte {
	return Keccak256(result, nonce)
}

// VerifyCommitment reports whether result and nonce open commitment.
func VerifyCommitment(commitment, result, nonce []byte) bool {
	return bytes.Equal(commitment, ComputeCommitment(result, nonce))
}
