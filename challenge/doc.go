// Package challenge issues and verifies the signed handshake that gates
// group membership.
//
// A prospective member requests a challenge for their identity commitment,
// signs its EIP-712 encoding with the wallet that holds the gating NFT, and
// submits the signature back. The issuer tracks each nonce through the
// issued -> consumed | expired lifecycle so a signature can authorize at
// most one join.
package challenge
