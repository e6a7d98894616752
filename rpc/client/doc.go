// Package client implements the RPC catalog client. NewRPCCatalog returns a
// catalog.ICatalog that forwards every operation to a responder reachable
// through the message server.
//
// Calls that fail ambiguously (timeout, lost connection) are retried. Reads
// and publish are resent as they are. Deletes treat a not-found after an
// ambiguous attempt as success. Creates and facet updates first read the
// catalog to find out whether the lost attempt was applied and only resend
// when it was not, so a create is applied at most once.
//
// Usage Example:
//
//	config := common.DefaultClientConfig()
//	config.Transport.Endpoints = []string{"nats://localhost:4222"}
//
//	cat, err := client.NewRPCCatalog(config, tcp.NewTCPClientTransport(), serializer.NewJSONSerializer())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	id, err := cat.CreateCollection(ctx, catalog.Collection{Name: "models"})
//
// Thread Safety:
//
//	The client is safe for concurrent use. Replies are matched to their callers
//	by the transport, concurrent calls never observe each other's results.
package client
