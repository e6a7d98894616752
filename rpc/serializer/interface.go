package serializer

// IRPCSerializer is the interface for the payload codec of requests and replies
type IRPCSerializer interface {
	// Serialize encodes a request or reply envelope into a payload
	Serialize(v any) ([]byte, error)
	// Deserialize decodes a payload into the envelope pointed to by v
	Deserialize(b []byte, v any) error
	// Name returns a short name of the encoding, e.g. "json"
	Name() string
}
