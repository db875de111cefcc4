// Package relay implements the board's trust-and-replay protocol: the
// NFT-gated join handshake and the proof submission path.
//
// The relay sits between end users, who never transact directly, and the
// on-chain verification contract. It authenticates joins with a signed
// challenge and an NFT balance check, bounds proof submissions to a
// two-epoch scope window, and serializes all writes through the single
// relayer account. Validation and authentication failures are resolved at
// the boundary and never reach the chain, so a doomed request costs no gas.
//
// Responses are at-least-once success notifications: a caller that times
// out may still have its transaction land, and resubmitting the same proof
// is tolerated idempotently because the contract rejects the reused
// nullifier.
package relay
