package leaseproto

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName must be "proto": it's the name grpc-go's transport negotiates
// via the content-subtype header when none is set, so registering under
// this name makes every LeaseService call use jsonCodec without the caller
// having to pin CallContentSubtype everywhere.
const codecName = "proto"

// jsonCodec marshals the plain structs in this package with encoding/json in
// place of the protobuf wire format a generated client/server pair would
// normally use. See the package doc in messages.go for why.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("leaseproto: marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("leaseproto: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
