// Package testing provides a conformance suite for implementations of the
// catalog.ICatalog interface.
//
// The same suite runs against the in-memory catalog and against the RPC client
// talking to a responder over an embedded message server, so both sides of the
// bridge are held to one contract.
//
// Example usage:
//
//	cattesting.RunCatalogTests(t, "Local", func(t *testing.T) catalog.ICatalog {
//		return local.NewLocalCatalog()
//	})
package testing
