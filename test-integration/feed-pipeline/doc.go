// Package integration provides end-to-end tests for the catalog feed server.
// The tests run the complete server against file storage and a fake remote
// catalog service and drive full generation and registration cycles.
package integration
