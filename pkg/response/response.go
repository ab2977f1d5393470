// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package response serializes handler results into HTTP/1.1 wire responses.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	perrors "github.com/absmach/weaprous/pkg/errors"
	"github.com/absmach/weaprous/pkg/handler"
	"github.com/absmach/weaprous/pkg/header"
)

const (
	// Version is the protocol written on every status line.
	Version = "HTTP/1.1"

	contentTypeJSON  = "application/json"
	contentTypeHTML  = "text/html"
	contentTypePlain = "text/plain"
)

// Response is a fully materialized HTTP response.
type Response struct {
	Status int
	// Reason overrides the phrase derived from Status when set.
	Reason  string
	Headers *header.Map
	Body    []byte
}

// StatusText returns the reason phrase for handler statuses. Only a small
// set of codes is known; anything else below 500 reads "OK".
func StatusText(code int) string {
	switch {
	case code == http.StatusFound:
		return "Found"
	case code == http.StatusUnauthorized:
		return "Unauthorized"
	case code == http.StatusNotFound:
		return "Not Found"
	case code >= http.StatusInternalServerError:
		return "Internal Server Error"
	default:
		return "OK"
	}
}

// New returns a response with the given status, headers and body.
func New(status int, headers *header.Map, body []byte) *Response {
	if headers == nil {
		headers = &header.Map{}
	}
	return &Response{
		Status:  status,
		Headers: headers,
		Body:    body,
	}
}

// Text returns a response with a text/plain body.
func Text(status int, reason, body string) *Response {
	r := New(status, header.New(header.Field{Name: "Content-Type", Value: contentTypePlain}), []byte(body))
	r.Reason = reason
	return r
}

// NotFound is the generic response for unmatched resources.
func NotFound() *Response {
	return Text(http.StatusNotFound, "Not Found", "404 Not Found")
}

// BadRequest answers malformed requests.
func BadRequest() *Response {
	return Text(http.StatusBadRequest, "Bad Request", "Bad Request")
}

// InternalError answers a failure with its description as the body.
func InternalError(msg string) *Response {
	return Text(http.StatusInternalServerError, "Internal Server Error", msg)
}

// FromError answers err with the status its error class maps to. Server
// faults carry the error text as the body.
func FromError(err error) *Response {
	switch code := perrors.StatusCode(err); code {
	case http.StatusOK:
		return New(code, nil, nil)
	case http.StatusBadRequest:
		return BadRequest()
	case http.StatusUnauthorized:
		return Text(code, "Unauthorized", "401 Unauthorized")
	case http.StatusNotFound:
		return NotFound()
	default:
		return InternalError(err.Error())
	}
}

// FromResult maps a handler result onto a response.
func FromResult(res handler.Result) (*Response, error) {
	switch res.Kind {
	case handler.KindStructured:
		return New(res.Status, res.Headers.Clone(), res.Body), nil
	case handler.KindJSON:
		body, err := json.Marshal(res.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode JSON result: %w", err)
		}
		h := header.New(header.Field{Name: "Content-Type", Value: contentTypeJSON})
		return New(http.StatusOK, h, body), nil
	case handler.KindHTML:
		h := header.New(header.Field{Name: "Content-Type", Value: contentTypeHTML})
		return New(http.StatusOK, h, []byte(res.Text)), nil
	default:
		return NotFound(), nil
	}
}

// Bytes serializes the response. Content-Length is added when the headers
// do not carry one, and "Connection: close" is always the last header.
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer
	r.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo writes the serialized response to w.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	reason := r.Reason
	if reason == "" {
		reason = StatusText(r.Status)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d %s\r\n", Version, r.Status, reason)
	for _, f := range r.Headers.Fields() {
		if strings.EqualFold(f.Name, "Connection") {
			continue
		}
		buf.WriteString(f.Name + ": " + f.Value + "\r\n")
	}
	if !r.Headers.Has("Content-Length") {
		buf.WriteString("Content-Length: " + strconv.Itoa(len(r.Body)) + "\r\n")
	}
	buf.WriteString("Connection: close\r\n\r\n")
	buf.Write(r.Body)

	return buf.WriteTo(w)
}
