// Package chain gives the relay its single capability on the blockchain:
// read NFT balances, add group members, and forward proof bundles to the
// verification contract.
//
// The contract is treated as a verify-and-emit oracle. The relay never
// inspects proofs; it learns only "included" or "reverted with reason".
// All writes share one relayer account, so broadcast is serialized by a
// Sequencer that owns the account's nonce progression.
package chain
