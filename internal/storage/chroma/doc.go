// Package chroma implements storage.DocumentStore on a Chroma server.
//
// Each partition maps to a collection of the same name using cosine
// distance. Chroma metadata values must be scalars, so list values such as
// a file's imports are stored as JSON strings and restored on read.
package chroma
