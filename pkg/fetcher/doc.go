// Package fetcher retrieves task artifacts into container sandboxes,
// supporting http(s) downloads with retry, local file copies, executable
// bits and tar.gz extraction.
package fetcher
