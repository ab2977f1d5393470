// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package weaprous holds the configuration and process helpers shared by
// the backend engine and the reverse proxy executables.
package weaprous
