// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compressor is one OP_COMPRESSED codec: a name advertised during the
// handshake and the pair of functions a wire codec would call on outgoing
// and incoming message bodies. The wire codec itself is out of scope
// (spec.md Non-goals); Compressor is the seam it would plug into.
type Compressor interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, uncompressedSize int32) ([]byte, error)
}

type snappyCompressor struct{}

func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCompressor) Decompress(src []byte, uncompressedSize int32) ([]byte, error) {
	dst := make([]byte, uncompressedSize)
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("topology: snappy decompress: %w", err)
	}
	return out, nil
}

type zlibCompressor struct{ level int }

func (zlibCompressor) Name() string { return "zlib" }

func (c zlibCompressor) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	level := c.level
	if level == 0 {
		level = zlib.DefaultCompression
	}
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("topology: zlib writer: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		w.Close()
		return nil, fmt.Errorf("topology: zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("topology: zlib flush: %w", err)
	}
	return buf.Bytes(), nil
}

func (zlibCompressor) Decompress(src []byte, uncompressedSize int32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("topology: zlib reader: %w", err)
	}
	defer r.Close()
	out := make([]byte, 0, uncompressedSize)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("topology: zlib decompress: %w", err)
	}
	return buf.Bytes(), nil
}

type zstdCompressor struct{}

func (zstdCompressor) Name() string { return "zstd" }

func (zstdCompressor) Compress(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("topology: zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func (zstdCompressor) Decompress(src []byte, uncompressedSize int32) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("topology: zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(src, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("topology: zstd decompress: %w", err)
	}
	return out, nil
}

// newCompressor builds the Compressor for one of the three names the
// handshake may advertise or a server may acknowledge, and returns an error
// for any other name. negotiateCompressor skips names it rejects, so an
// unknown name in a connection string's compressors option is left unused
// rather than failing the connection.
func newCompressor(name string) (Compressor, error) {
	switch name {
	case "snappy":
		return snappyCompressor{}, nil
	case "zlib":
		return zlibCompressor{}, nil
	case "zstd":
		return zstdCompressor{}, nil
	default:
		return nil, fmt.Errorf("topology: unsupported compressor %q", name)
	}
}

// negotiateCompressor picks the first entry of preferred (the client's own
// compressors option, in the order the caller listed it) that also appears
// in advertised (the server's hello reply). It returns ok=false if neither
// side named a usable compressor, in which case the connection runs
// uncompressed.
func negotiateCompressor(preferred, advertised []string) (Compressor, bool) {
	advertisedSet := make(map[string]struct{}, len(advertised))
	for _, name := range advertised {
		advertisedSet[name] = struct{}{}
	}
	for _, name := range preferred {
		if _, ok := advertisedSet[name]; !ok {
			continue
		}
		c, err := newCompressor(name)
		if err != nil {
			continue
		}
		return c, true
	}
	return nil, false
}
