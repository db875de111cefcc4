// Package common holds identifiers shared across the relay's services.
package common

// PackageName identifies this service in metrics and logs.
const PackageName = "disphorea-relay"

// Version is set at build time via -ldflags.
var Version = "dev"

// DefaultBoardID is the board used when a request does not name one.
const DefaultBoardID = "default"
