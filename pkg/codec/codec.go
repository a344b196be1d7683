// Package codec serializes the values that travel between publishers and subscribers.
//
// Publisher and subscriber agree on a codec out of band. The broker only ever sees the
// encoded bytes. Decoding into a *any yields a generic value (maps, slices, scalars
// or, for Proto, the concrete registered message); decoding into a typed pointer
// fills it directly.
package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedType is returned when a codec cannot handle the given value.
	ErrUnsupportedType = errors.New("unsupported type for codec")

	// ErrUnknownCodec is returned by ByName for an unregistered name.
	ErrUnknownCodec = errors.New("unknown codec")
)

// Codec converts values to and from message bodies.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	Msgpack Codec = msgpackCodec{}
	JSON    Codec = jsonCodec{}
	Proto   Codec = protoCodec{}
)

// Default is the codec used when none is configured.
var Default = Msgpack

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", Msgpack.Name():
		return Msgpack, nil
	case JSON.Name():
		return JSON, nil
	case Proto.Name():
		return Proto, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}
