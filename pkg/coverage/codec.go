package coverage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

// initCodec builds the shared encoder and decoder. EncodeAll and DecodeAll
// are safe for concurrent use.
func initCodec() error {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		)
		if codecErr != nil {
			return
		}

		decoder, codecErr = zstd.NewReader(nil)
	})

	return codecErr
}

// Compress serializes shrunk coverage as JSON and compresses it.
func Compress(c ShrunkCoverage) ([]byte, error) {
	if err := initCodec(); err != nil {
		return nil, fmt.Errorf("initializing zstd codec: %w", err)
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding coverage: %w", err)
	}

	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// Decompress reverses Compress.
func Decompress(blob []byte) (ShrunkCoverage, error) {
	if err := initCodec(); err != nil {
		return nil, fmt.Errorf("initializing zstd codec: %w", err)
	}

	raw, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing coverage: %w", err)
	}

	var c ShrunkCoverage
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decoding coverage: %w", err)
	}

	return c, nil
}
