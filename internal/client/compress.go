package client

import (
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "gzip, br, zstd"

var gzipReaderPool = sync.Pool{
	New: func() any {
		return new(gzip.Reader)
	},
}

var brotliReaderPool = sync.Pool{
	New: func() any {
		return new(brotli.Reader)
	},
}

// zstd.Decoder is expensive to create; pooling pays off.
var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, _ := zstd.NewReader(nil)
		return decoder
	},
}

type gzipBody struct {
	gr   *gzip.Reader
	body io.ReadCloser
}

func (b *gzipBody) Read(p []byte) (int, error) {
	return b.gr.Read(p)
}

func (b *gzipBody) Close() error {
	err := b.gr.Close()
	gzipReaderPool.Put(b.gr)
	if bodyErr := b.body.Close(); bodyErr != nil && err == nil {
		err = bodyErr
	}
	return err
}

type brotliBody struct {
	br   *brotli.Reader
	body io.ReadCloser
}

func (b *brotliBody) Read(p []byte) (int, error) {
	return b.br.Read(p)
}

func (b *brotliBody) Close() error {
	// Drain so the reader is reusable after Reset.
	_, _ = io.Copy(io.Discard, b.br)
	brotliReaderPool.Put(b.br)
	return b.body.Close()
}

type zstdBody struct {
	decoder *zstd.Decoder
	body    io.ReadCloser
}

func (b *zstdBody) Read(p []byte) (int, error) {
	return b.decoder.Read(p)
}

func (b *zstdBody) Close() error {
	b.decoder.Reset(nil)
	zstdDecoderPool.Put(b.decoder)
	return b.body.Close()
}

// decodeBody wraps body with the decompression reader matching the response's
// Content-Encoding. Unknown or empty encodings pass through unchanged.
func decodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	if body == nil {
		return nil, fmt.Errorf("response body is nil")
	}
	switch strings.TrimSpace(strings.ToLower(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		gr := gzipReaderPool.Get().(*gzip.Reader)
		if err := gr.Reset(body); err != nil {
			gzipReaderPool.Put(gr)
			_ = body.Close()
			return nil, fmt.Errorf("failed to reset gzip reader: %w", err)
		}
		return &gzipBody{gr: gr, body: body}, nil
	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(body); err != nil {
			brotliReaderPool.Put(br)
			_ = body.Close()
			return nil, fmt.Errorf("failed to reset brotli reader: %w", err)
		}
		return &brotliBody{br: br, body: body}, nil
	case "zstd":
		decoder := zstdDecoderPool.Get().(*zstd.Decoder)
		if err := decoder.Reset(body); err != nil {
			zstdDecoderPool.Put(decoder)
			_ = body.Close()
			return nil, fmt.Errorf("failed to reset zstd decoder: %w", err)
		}
		return &zstdBody{decoder: decoder, body: body}, nil
	default:
		return body, nil
	}
}
