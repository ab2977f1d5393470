// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"testing/iotest"

	perrors "github.com/absmach/weaprous/pkg/errors"
	"github.com/absmach/weaprous/pkg/handler"
	"github.com/absmach/weaprous/pkg/header"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSessions struct {
	valid  map[string]bool
	called []string
}

func (m *mockSessions) Validate(id string) bool {
	m.called = append(m.called, id)
	return m.valid[id]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		method  string
		path    string
		version string
		wantErr bool
	}{
		{"simple get", "GET /user HTTP/1.1\r\nHost: x\r\n\r\n", "GET", "/user", "HTTP/1.1", false},
		{"root rewritten", "GET / HTTP/1.1\r\n\r\n", "GET", "/index.html", "HTTP/1.1", false},
		{"method upper-cased", "post /echo HTTP/1.0\r\n", "POST", "/echo", "HTTP/1.0", false},
		{"extra whitespace", "  GET\t/a   HTTP/1.1  \r\n", "GET", "/a", "HTTP/1.1", false},
		{"no line ending", "DELETE /x HTTP/1.1", "DELETE", "/x", "HTTP/1.1", false},
		{"two tokens", "GET /\r\n", "", "", "", true},
		{"four tokens", "GET / HTTP/1.1 extra\r\n", "", "", "", true},
		{"empty", "", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, path, version, err := ParseRequestLine(tt.raw)
			if tt.wantErr {
				assert.True(t, errors.Is(err, perrors.ErrMalformedRequest))
				assert.Empty(t, method)
				assert.Empty(t, path)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.method, method)
			assert.Equal(t, tt.path, path)
			assert.Equal(t, tt.version, version)
		})
	}
}

func TestRequestLineRoundTrip(t *testing.T) {
	for _, line := range []string{"GET /user HTTP/1.1", "put /items/1 HTTP/1.0", "GET / HTTP/1.1"} {
		p := New(nil, nil, testLogger())
		req := p.Prepare([]byte(line + "\r\n\r\n"))
		require.True(t, req.Valid())

		fields := strings.Fields(line)
		want := strings.ToUpper(fields[0]) + " " + fields[1] + " " + fields[2]
		if fields[1] == "/" {
			want = strings.ToUpper(fields[0]) + " /index.html " + fields[2]
		}
		assert.Equal(t, want, req.RequestLine())
	}
}

func TestParseHeaders(t *testing.T) {
	raw := "POST /echo HTTP/1.1\r\n" +
		"Host: localhost:9001\r\n" +
		"Content-Type: application/json\r\n" +
		"X-Empty:\r\n" +
		"Set-Cookie: a=1\r\n" +
		"set-cookie: b=2\r\n" +
		"\r\n" +
		`{"not": "a header"}`

	h := ParseHeaders(raw)
	assert.Equal(t, "localhost:9001", h.Get("host"))
	assert.Equal(t, "application/json", h.Get("CONTENT-TYPE"))
	assert.False(t, h.Has("X-Empty"), "line without \": \" is skipped")
	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("Set-Cookie"))
	assert.False(t, h.Has(`{"not"`), "body lines are not headers")
}

func TestParseCookies(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		want   map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"single", "sessionid=abc", map[string]string{"sessionid": "abc"}},
		{"several with spaces", "auth=true; sessionid=abc ;theme=dark", map[string]string{"auth": "true", "sessionid": "abc", "theme": "dark"}},
		{"malformed pair skipped", "auth=true; garbage; x=1", map[string]string{"auth": "true", "x": "1"}},
		{"value keeps equals", "token=a=b=c", map[string]string{"token": "a=b=c"}},
		{"last duplicate wins", "a=1; a=2", map[string]string{"a": "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &header.Map{}
			if tt.cookie != "" {
				h.Set("cookie", tt.cookie)
			}
			assert.Equal(t, tt.want, ParseCookies(h))
		})
	}
}

func TestPrepare_RoutesAndBody(t *testing.T) {
	called := false
	routes := handler.NewRoutes()
	routes.Handle("/echo", func(ctx context.Context, h *header.Map, body []byte) (handler.Result, error) {
		called = true
		return handler.JSON(nil), nil
	}, "POST")
	routes.Handle("/", func(ctx context.Context, h *header.Map, body []byte) (handler.Result, error) {
		return handler.HTML("home"), nil
	}, "GET")

	p := New(routes, nil, testLogger())

	req := p.Prepare([]byte("POST /echo HTTP/1.1\r\nContent-Type: application/json\r\n\r\n{\"a\":1}"))
	require.True(t, req.Valid())
	require.NotNil(t, req.Handler)
	assert.Equal(t, []byte(`{"a":1}`), req.Body)
	assert.Equal(t, AuthNone, req.Auth)
	_, err := req.Handler(context.Background(), req.Headers, req.Body)
	require.NoError(t, err)
	assert.True(t, called)

	req = p.Prepare([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	assert.Equal(t, IndexPath, req.Path)
	assert.Nil(t, req.Handler, "route on \"/\" must not match the rewritten path")

	req = p.Prepare([]byte("GET /missing HTTP/1.1\r\n"))
	assert.Nil(t, req.Handler)
	assert.Nil(t, req.Body)
}

func TestPrepare_Malformed(t *testing.T) {
	p := New(handler.NewRoutes(), nil, testLogger())
	req := p.Prepare([]byte("BROKEN\r\nHost: x\r\n\r\n"))

	assert.False(t, req.Valid())
	assert.Empty(t, req.Path)
	assert.Nil(t, req.Handler)
	assert.Equal(t, 0, req.Headers.Len())
}

func TestPrepare_IndexAuth(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		cookie    string
		valid     map[string]bool
		want      AuthStatus
		keepsAuth bool
		validated bool
	}{
		{"valid session", "/", "auth=true; sessionid=s1", map[string]bool{"s1": true}, AuthOK, true, true},
		{"expired session drops auth cookie", "/index.html", "auth=true; sessionid=s1", nil, AuthFail, false, true},
		{"missing session cookie", "/", "auth=true", nil, AuthFail, true, false},
		{"auth not true", "/", "auth=false; sessionid=s1", map[string]bool{"s1": true}, AuthFail, true, false},
		{"no cookies", "/", "", nil, AuthFail, false, false},
		{"other path", "/hello", "auth=true; sessionid=s1", map[string]bool{"s1": true}, AuthNone, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &mockSessions{valid: tt.valid}
			p := New(nil, sessions, testLogger())

			raw := "GET " + tt.path + " HTTP/1.1\r\n"
			if tt.cookie != "" {
				raw += "Cookie: " + tt.cookie + "\r\n"
			}
			raw += "\r\n"

			req := p.Prepare([]byte(raw))
			assert.Equal(t, tt.want, req.Auth)
			_, hasAuth := req.Cookies[AuthCookie]
			assert.Equal(t, tt.keepsAuth, hasAuth)
			assert.Equal(t, tt.validated, len(sessions.called) > 0)
		})
	}
}

func TestReadMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		max     int
		want    string
		wantErr error
	}{
		{
			name:  "headers only",
			input: "GET / HTTP/1.1\r\nHost: a\r\n\r\n",
			want:  "GET / HTTP/1.1\r\nHost: a\r\n\r\n",
		},
		{
			name:  "body by content length",
			input: "POST /echo HTTP/1.1\r\ncontent-length: 7\r\n\r\n{\"a\":1}",
			want:  "POST /echo HTTP/1.1\r\ncontent-length: 7\r\n\r\n{\"a\":1}",
		},
		{
			name:  "peer closes before full body",
			input: "POST /echo HTTP/1.1\r\nContent-Length: 100\r\n\r\nshort",
			want:  "POST /echo HTTP/1.1\r\nContent-Length: 100\r\n\r\nshort",
		},
		{
			name:  "no terminator",
			input: "GET / HTTP/1.1\r\nHost: a",
			want:  "GET / HTTP/1.1\r\nHost: a",
		},
		{
			name:    "empty",
			input:   "",
			wantErr: io.EOF,
		},
		{
			name:    "too large",
			input:   strings.Repeat("x", 64),
			max:     16,
			wantErr: perrors.ErrRequestTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := iotest.OneByteReader(bytes.NewBufferString(tt.input))
			got, err := ReadMessage(r, tt.max)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestReadMessage_StopsAfterDeclaredBody(t *testing.T) {
	// A blocking reader would hang if ReadMessage asked for more than announced.
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("POST /a HTTP/1.1\r\nContent-Length: 2\r\n\r\nok"))
	}()
	defer pw.Close()

	got, err := ReadMessage(pr, 0)
	require.NoError(t, err)
	assert.Equal(t, "POST /a HTTP/1.1\r\nContent-Length: 2\r\n\r\nok", string(got))
}
