// Package store persists the append-only log of accepted posts.
//
// Posts are keyed by transaction hash and ordered by creation time within
// a board. Feeds paginate by a timestamp cursor and can be scoped to one
// pseudonymous author, which lets a member read their own history without
// the server ever linking the pseudonym to a wallet.
//
// Three interchangeable backends: PostgreSQL for multi-reader deployments,
// embedded SQLite for a single box, and an in-memory store for tests.
package store
