package queue

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the payload size above which zstd is attempted.
const compressThreshold = 1024

// codec turns envelopes into stored payloads and back. Payloads are CBOR
// and are zstd compressed when larger than compressThreshold and when
// compression actually shrinks them.
type codec struct {
	enc     cbor.EncMode
	dec     cbor.DecMode
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		UTF8:           cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create cbor decoder: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &codec{enc: enc, dec: dec, encoder: encoder, decoder: decoder}, nil
}

func (c *codec) marshal(m *Message) (payload []byte, compressed bool, err error) {
	data, err := c.enc.Marshal(m)
	if err != nil {
		return nil, false, fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	if len(data) > compressThreshold {
		if z := c.encoder.EncodeAll(data, nil); len(z) < len(data) {
			return z, true, nil
		}
	}
	return data, false, nil
}

func (c *codec) unmarshal(payload []byte, compressed bool) (*Message, error) {
	if compressed {
		raw, err := c.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
		}
		payload = raw
	}
	var m Message
	if err := c.dec.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	return &m, nil
}

func (c *codec) close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}
