package board

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveScope maps (salt, epoch) to the scope for that epoch.
//
// The hash matches the on-chain derivation exactly: keccak256 over the
// abi.encodePacked(bytes32, uint256) byte layout of the two fields, then
// right-shifted by 8 bits so the result fits the BN254 scalar field the
// proof circuit operates in. Any deviation here produces scopes the
// verification contract will reject even for otherwise valid proofs.
func DeriveScope(salt [SaltLength]byte, epoch uint64) *big.Int {
	// bytes32 salt followed by a big-endian uint256 epoch
	var buf [64]byte
	copy(buf[:SaltLength], salt[:])
	binary.BigEndian.PutUint64(buf[56:], epoch)

	h := crypto.Keccak256(buf[:])
	return new(big.Int).Rsh(new(big.Int).SetBytes(h), 8)
}
