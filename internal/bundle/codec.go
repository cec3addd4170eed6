package bundle

import (
	"errors"
	"fmt"
	"time"

	"go.dedis.ch/protobuf"
	"github.com/golang/snappy"
)

// ErrMalformed is returned when a frame cannot be decoded into a bundle.
var ErrMalformed = errors.New("malformed bundle")

const wireVersion = 7

const flagCompressed uint32 = 1 << 0

// MaxPayload is the payload size Decode accepts, after decompression.
const MaxPayload = 64 << 10

// envelope is the on-air representation of a Bundle.
type envelope struct {
	Version      uint32
	Flags        uint32
	Source       string
	Destination  string
	CreationTime int64
	Sequence     uint64
	LifetimeMs   int64
	Previous     string
	HopCount     uint32
	Payload      []byte
}

// Encode serializes b for transmission. The payload is snappy-compressed when
// that makes it smaller.
func Encode(b *Bundle) ([]byte, error) {
	env := envelope{
		Version:      wireVersion,
		Source:       b.Source,
		Destination:  b.Destination,
		CreationTime: b.CreationTime,
		Sequence:     b.Sequence,
		LifetimeMs:   b.Lifetime.Milliseconds(),
		Previous:     b.Previous,
		HopCount:     b.HopCount,
		Payload:      b.Payload,
	}
	if len(b.Payload) > 0 {
		if packed := snappy.Encode(nil, b.Payload); len(packed) < len(b.Payload) {
			env.Payload = packed
			env.Flags |= flagCompressed
		}
	}

	data, err := protobuf.Encode(&env)
	if err != nil {
		return nil, fmt.Errorf("encode bundle %s: %w", b.ID(), err)
	}
	return data, nil
}

// Decode parses a frame produced by Encode, accepting payloads up to
// MaxPayload bytes.
func Decode(data []byte) (*Bundle, error) {
	return DecodeLimit(data, MaxPayload)
}

// DecodeLimit is Decode with an explicit payload bound. The bound is checked
// against the length a compressed payload claims before anything is
// allocated for it.
func DecodeLimit(data []byte, maxPayload int) (b *Bundle, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	// Frames come off the air; a corrupted one must not take the loop down.
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	var env envelope
	if err := protobuf.Decode(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Version != wireVersion {
		return nil, fmt.Errorf("%w: version %d", ErrMalformed, env.Version)
	}
	if env.Source == "" || env.Destination == "" {
		return nil, fmt.Errorf("%w: missing endpoint", ErrMalformed)
	}

	payload := env.Payload
	if env.Flags&flagCompressed != 0 {
		n, err := snappy.DecodedLen(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
		}
		if n > maxPayload {
			return nil, fmt.Errorf("%w: payload claims %d bytes, limit %d", ErrMalformed, n, maxPayload)
		}
		payload, err = snappy.Decode(nil, env.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
		}
	}
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("%w: payload %d bytes, limit %d", ErrMalformed, len(payload), maxPayload)
	}

	return &Bundle{
		Source:       env.Source,
		Destination:  env.Destination,
		CreationTime: env.CreationTime,
		Sequence:     env.Sequence,
		Lifetime:     time.Duration(env.LifetimeMs) * time.Millisecond,
		Previous:     env.Previous,
		HopCount:     env.HopCount,
		Payload:      payload,
	}, nil
}
