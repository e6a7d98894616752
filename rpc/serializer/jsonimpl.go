package serializer

import (
	"encoding/json"
	"fmt"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return b, nil
}

func (j jsonSerializerImpl) Deserialize(b []byte, v any) error {
	if len(b) == 0 {
		return fmt.Errorf("json decode: empty payload")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}

func (j jsonSerializerImpl) Name() string {
	return "json"
}
