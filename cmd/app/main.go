// Package main is the entry point for the two-tier application server.
//
// The binary hosts the stateless application tier. On startup a bootstrap
// coordinator resolves the backing store's address, waits for it to become
// reachable, ensures the schema exists, and opens the request-path
// connections; only then does the HTTP API accept application traffic.
package main

func main() {
	Execute()
}
