// Package harbour carries the identity shared by the binaries built from
// this module.
package harbour

// Version is the harbour release version.
const Version = "0.1.0"
