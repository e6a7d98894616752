// Package server implements the catalog responder. It subscribes to every
// catalog route in a queue group, decodes requests, runs them against a
// catalog.ICatalog and publishes the reply to the reply subject of the request.
//
// Key Components:
//
//   - IRPCServerAdapter: translates a raw request on a route into a catalog call
//     and returns the reply to send back.
//
//   - NewICatalogServerAdapter: the adapter for all catalog routes.
//
//   - NewRPCServer: creates a responder for a transport, serializer and catalog.
//
// Requests are handed from the connection to a fixed number of workers through a
// bounded queue. When the queue is full the request is answered with a
// server-unavailable error instead of blocking the connection. After a lost
// connection the responder subscribes again.
//
// Usage Example:
//
//	s := server.NewRPCServer(
//		common.ServerConfig{Client: common.DefaultClientConfig(), Workers: 8},
//		tcp.NewTCPClientTransport(),
//		serializer.NewJSONSerializer(),
//		local.NewLocalCatalog(),
//	)
//
//	if err := s.Serve(ctx); err != nil {
//		log.Fatalf("Server error: %v", err)
//	}
package server
