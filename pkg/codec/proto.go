package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// protoCodec frames every message in an anypb.Any so the receiver can recover
// the concrete type from the global registry without knowing it in advance.
type protoCodec struct{}

func (protoCodec) Name() string { return "proto" }

func (protoCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a proto.Message", ErrUnsupportedType, v)
	}
	packed, err := anypb.New(m)
	if err != nil {
		return nil, fmt.Errorf("proto pack: %w", err)
	}
	data, err := proto.Marshal(packed)
	if err != nil {
		return nil, fmt.Errorf("proto encode: %w", err)
	}
	return data, nil
}

func (protoCodec) Unmarshal(data []byte, v any) error {
	var packed anypb.Any
	if err := proto.Unmarshal(data, &packed); err != nil {
		return fmt.Errorf("proto decode: %w", err)
	}

	switch out := v.(type) {
	case *any:
		m, err := packed.UnmarshalNew()
		if err != nil {
			return fmt.Errorf("proto unpack %s: %w", packed.GetTypeUrl(), err)
		}
		*out = m
		return nil
	case proto.Message:
		if err := packed.UnmarshalTo(out); err != nil {
			return fmt.Errorf("proto unpack %s: %w", packed.GetTypeUrl(), err)
		}
		return nil
	default:
		return fmt.Errorf("%w: cannot decode into %T", ErrUnsupportedType, v)
	}
}
