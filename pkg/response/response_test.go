// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package response

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"

	perrors "github.com/absmach/weaprous/pkg/errors"
	"github.com/absmach/weaprous/pkg/handler"
	"github.com/absmach/weaprous/pkg/header"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusText(t *testing.T) {
	tests := map[int]string{
		200: "OK",
		302: "Found",
		401: "Unauthorized",
		404: "Not Found",
		500: "Internal Server Error",
		503: "Internal Server Error",
		201: "OK",
		400: "OK",
		403: "OK",
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusText(code), "status %d", code)
	}
}

func TestFromResult_Structured(t *testing.T) {
	h := &header.Map{}
	h.Add("Set-Cookie", "sessionid=abc; Max-Age=15; HttpOnly")
	h.Add("Set-Cookie", "auth=true; Max-Age=15; HttpOnly")
	h.Add("Location", "/index.html")
	h.Add("Content-Type", "text/html")

	resp, err := FromResult(handler.StructuredString(302, h, "<h1>ok</h1>"))
	require.NoError(t, err)

	want := "HTTP/1.1 302 Found\r\n" +
		"Set-Cookie: sessionid=abc; Max-Age=15; HttpOnly\r\n" +
		"Set-Cookie: auth=true; Max-Age=15; HttpOnly\r\n" +
		"Location: /index.html\r\n" +
		"Content-Type: text/html\r\n" +
		"Content-Length: 11\r\n" +
		"Connection: close\r\n" +
		"\r\n" +
		"<h1>ok</h1>"
	assert.Equal(t, want, string(resp.Bytes()))
}

func TestFromResult_KeepsSuppliedContentLength(t *testing.T) {
	h := header.New(header.Field{Name: "content-length", Value: "3"})
	resp, err := FromResult(handler.StructuredString(200, h, "abc"))
	require.NoError(t, err)

	out := string(resp.Bytes())
	assert.Equal(t, 1, strings.Count(strings.ToLower(out), "content-length"))
	assert.Contains(t, out, "content-length: 3\r\n")
}

func TestFromResult_SingleConnectionHeader(t *testing.T) {
	h := header.New(header.Field{Name: "Connection", Value: "keep-alive"})
	resp, err := FromResult(handler.StructuredString(200, h, ""))
	require.NoError(t, err)

	out := string(resp.Bytes())
	assert.Equal(t, 1, strings.Count(out, "Connection:"))
	assert.Contains(t, out, "Connection: close\r\n\r\n")
}

func TestFromResult_UnknownStatusReadsOK(t *testing.T) {
	resp, err := FromResult(handler.StructuredString(418, nil, ""))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(resp.Bytes()), "HTTP/1.1 418 OK\r\n"))
}

func TestFromResult_JSON(t *testing.T) {
	resp, err := FromResult(handler.JSON(map[string]any{"received": map[string]any{"a": 1}}))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "application/json", resp.Headers.Get("content-type"))
	assert.JSONEq(t, `{"received": {"a": 1}}`, string(resp.Body))
	assert.Contains(t, string(resp.Bytes()), "Content-Length: 20\r\n")
}

func TestFromResult_JSONError(t *testing.T) {
	_, err := FromResult(handler.JSON(make(chan int)))
	assert.Error(t, err)
}

func TestFromResult_HTML(t *testing.T) {
	resp, err := FromResult(handler.HTML("héllo"))
	require.NoError(t, err)

	want := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/html\r\n" +
		"Content-Length: 6\r\n" +
		"Connection: close\r\n" +
		"\r\n" +
		"héllo"
	assert.Equal(t, want, string(resp.Bytes()))
}

func TestFromResult_Fallback(t *testing.T) {
	resp, err := FromResult(handler.Fallback())
	require.NoError(t, err)
	assert.Equal(t, 404, resp.Status)
	assert.Equal(t, "404 Not Found", string(resp.Body))
}

func TestCannedResponses(t *testing.T) {
	assert.Equal(t,
		"HTTP/1.1 400 Bad Request\r\nContent-Type: text/plain\r\nContent-Length: 11\r\nConnection: close\r\n\r\nBad Request",
		string(BadRequest().Bytes()))
	assert.Equal(t,
		"HTTP/1.1 404 Not Found\r\nContent-Type: text/plain\r\nContent-Length: 13\r\nConnection: close\r\n\r\n404 Not Found",
		string(NotFound().Bytes()))
	assert.Equal(t,
		"HTTP/1.1 500 Internal Server Error\r\nContent-Type: text/plain\r\nContent-Length: 4\r\nConnection: close\r\n\r\nboom",
		string(InternalError("boom").Bytes()))
}

func TestFromError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		body   string
	}{
		{nil, 200, ""},
		{fmt.Errorf("%w: expected 3 tokens", perrors.ErrMalformedRequest), 400, "Bad Request"},
		{perrors.ErrMissingHost, 400, "Bad Request"},
		{perrors.ErrRequestTooLarge, 400, "Bad Request"},
		{perrors.ErrUnauthorized, 401, "401 Unauthorized"},
		{perrors.ErrBackendUnavailable, 404, "404 Not Found"},
		{errors.New("disk full"), 500, "disk full"},
	}
	for _, tt := range tests {
		resp := FromError(tt.err)
		assert.Equal(t, tt.status, resp.Status, "%v", tt.err)
		assert.Equal(t, tt.body, string(resp.Body), "%v", tt.err)
	}
}

func TestStatic(t *testing.T) {
	fsys := fstest.MapFS{
		"index.html":     {Data: []byte("<h1>index</h1>")},
		"css/styles.css": {Data: []byte("body{}")},
		"blob.unknownxt": {Data: []byte{0x1, 0x2}},
	}
	s := NewStaticFS(fsys, nil)

	tests := []struct {
		name   string
		path   string
		status int
		ctype  string
		body   string
	}{
		{"html", "/index.html", 200, "text/html; charset=utf-8", "<h1>index</h1>"},
		{"nested css", "/css/styles.css", 200, "text/css; charset=utf-8", "body{}"},
		{"query ignored", "/index.html?x=1", 200, "text/html; charset=utf-8", "<h1>index</h1>"},
		{"unknown extension", "/blob.unknownxt", 200, "application/octet-stream", "\x01\x02"},
		{"missing", "/nope.html", 404, "text/plain", "404 Not Found"},
		{"directory", "/css", 404, "text/plain", "404 Not Found"},
		{"traversal", "/../secret", 404, "text/plain", "404 Not Found"},
		{"root", "/", 404, "text/plain", "404 Not Found"},
		{"relative", "index.html", 404, "text/plain", "404 Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.Serve(tt.path)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.ctype, resp.Headers.Get("Content-Type"))
			assert.Equal(t, tt.body, string(resp.Body))
		})
	}
}
