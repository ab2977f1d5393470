// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"

	perrors "github.com/absmach/weaprous/pkg/errors"
)

const (
	// DefaultMaxMessageSize bounds a single inbound message.
	DefaultMaxMessageSize = 1 << 20

	readChunk = 4096
)

// ReadMessage reads one HTTP message from r: the header block up to the
// first blank line, then as many body bytes as a Content-Length header
// announces. A peer that closes early yields whatever arrived. The bytes
// are returned exactly as received so they can be forwarded verbatim.
// io.EOF is returned only when the peer closed without sending anything.
func ReadMessage(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	var buf []byte
	chunk := make([]byte, readChunk)
	want := -1

	for {
		if want < 0 {
			if end := bytes.Index(buf, []byte(headerEnd)); end >= 0 {
				want = end + len(headerEnd) + contentLength(buf[:end])
			}
		}
		if want >= 0 && len(buf) >= want {
			return buf, nil
		}
		if len(buf) >= maxSize {
			return buf, perrors.ErrRequestTooLarge
		}

		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(buf) == 0 {
					return nil, io.EOF
				}
				return buf, nil
			}
			return buf, err
		}
	}
}

// contentLength scans a header block for Content-Length. Missing or
// invalid values count as zero.
func contentLength(block []byte) int {
	for _, line := range strings.Split(string(block), "\n") {
		name, value, ok := strings.Cut(strings.TrimSuffix(line, "\r"), ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	return 0
}
