// Package checkpoint persists container run records for crash recovery.
// The production writer stores JSON records in a BoltDB bucket.
package checkpoint
