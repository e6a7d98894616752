package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/ValentinKolb/wBridge/rpc/serializer"
	"github.com/ValentinKolb/wBridge/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest serializes req, sends it on route and decodes the reply into resp.
// A non empty Error field of the reply is returned as a classified *common.ServerError.
func (a *rpcClientAdapter) invokeRPCRequest(ctx context.Context, route string, req any, resp common.Reply) error {
	reqBytes, err := a.serializer.Serialize(req)
	if err != nil {
		return fmt.Errorf("%s: %w", route, err)
	}

	// a timeout of zero uses the configured request timeout
	respBytes, err := a.transport.Send(ctx, route, reqBytes, 0)
	if err != nil {
		return err
	}

	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return fmt.Errorf("%s: malformed reply: %w", route, err)
	}

	return common.TranslateServerError(resp.ErrorText())
}
