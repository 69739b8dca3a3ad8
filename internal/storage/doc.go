// Package storage keeps the alert history and the operator audit log.
//
// The only backend is SQLite through the pure Go modernc.org/sqlite driver.
package storage
