// Package sqlite provides SQLite-backed auth persistence.
//
// It is the default on-disk store for identities, credentials, and access
// tokens used by the server and command tooling.
package sqlite
