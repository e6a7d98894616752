package server

import (
	"context"

	"github.com/ValentinKolb/wBridge/lib/catalog"
	"github.com/ValentinKolb/wBridge/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle decodes the request received on route, runs it against cat and returns the reply envelope.
	// Errors are reported in the Error field of the reply, never as a missing reply.
	Handle(ctx context.Context, route string, req []byte, cat catalog.ICatalog) (resp common.Reply)
}
