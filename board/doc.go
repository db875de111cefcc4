// Package board models an anonymity board and its per-epoch scope derivation.
//
// A board partitions time into fixed-length epochs. Each epoch maps to a
// scope, a field element derived from the board's immutable salt and the
// epoch index. The proof circuit binds a member's nullifier to a scope, so
// the same identity can post at most once per epoch without the relay ever
// learning which member posted.
//
// Scope derivation is pure and deterministic and must stay bit-for-bit
// compatible with the deployed verification contract.
package board
