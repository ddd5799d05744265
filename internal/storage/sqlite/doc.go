// Package sqlite provides the same repositories as the mysql package on top
// of an embedded SQLite database file. It targets single-node deployments
// and keeps the pool at a single connection to avoid writer contention.
package sqlite
