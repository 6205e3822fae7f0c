// Package memory holds in-process implementations of the profile cache, run
// status and blob stores, used for development and tests.
package memory
