package idempotency

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

func encodeHeaders(headers []Header) ([]byte, error) {
	if headers == nil {
		headers = []Header{}
	}
	b, err := msgpack.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encode response headers: %w", err)
	}
	return b, nil
}

func decodeHeaders(b []byte) ([]Header, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var headers []Header
	if err := msgpack.Unmarshal(b, &headers); err != nil {
		return nil, fmt.Errorf("decode response headers: %w", err)
	}
	if len(headers) == 0 {
		return nil, nil
	}
	return headers, nil
}
