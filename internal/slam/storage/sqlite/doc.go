// Package sqlite persists mapping sessions, grid snapshots and pose tracks
// in a SQLite database.
//
// The schema is managed with golang-migrate from migrations embedded in the
// binary; Open brings a database to the latest version before returning.
package sqlite
