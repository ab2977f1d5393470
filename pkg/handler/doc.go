// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler defines the contract between the engine and application code.
//
// # Routes
//
// A Routes table maps an exact (method, path) pair to a Func. Matching is
// literal: there are no wildcards or path parameters, and the request path
// is compared after the parser rewrites "/" to "/index.html". A route
// registered on "/" is therefore never reached by "GET /".
//
// # Results
//
// A Func returns a Result tagged with one of four kinds:
//
//	Structured(status, headers, body)  explicit response
//	JSON(value)                        200 application/json
//	HTML(text)                         200 text/html
//	Fallback()                         generic 404
//
// The serializer in package response switches on Result.Kind; it never
// inspects the dynamic type of the payload.
//
// # Example
//
//	routes := handler.NewRoutes()
//	routes.Handle("/user", func(ctx context.Context, h *header.Map, body []byte) (handler.Result, error) {
//		return handler.JSON(map[string]any{"id": 1, "name": "Alice"}), nil
//	}, http.MethodGet)
package handler
