// Package serializer provides the payload codec of the RPC bridge. Requests and
// replies are JSON objects; the envelope types live in the common package.
//
// Key Components:
//
//   - IRPCSerializer: interface used by the client and the catalog responder to
//     encode and decode envelopes.
//
//   - jsonSerializerImpl: implementation using encoding/json.
//
// Thread Safety:
//
//	The serializer is stateless and safe for concurrent use.
//
// Usage:
//
//	s := serializer.NewJSONSerializer()
//	data, err := s.Serialize(common.IdRequest{Id: "x"})
//	// ... send data ...
//	var reply common.ErrorReply
//	err = s.Deserialize(receivedData, &reply)
package serializer
