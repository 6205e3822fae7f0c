// Package store defines interfaces for persistence dependencies: the run
// status repository polled by the API and the profile cache table.
// Implementations live under internal/storage; this package must not import
// database drivers or concrete clients.
package store
