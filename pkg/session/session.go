// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session provides an in-memory session store with lazy expiry.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DefaultExpiry is the session lifetime used by the sample deployment.
const DefaultExpiry = 15 * time.Second

// saltSize is the number of random bytes mixed into every session id.
const saltSize = 8

// Session binds an opaque token to an authenticated user.
type Session struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

// Store maps session ids to sessions. Expired sessions are removed only
// when they are next validated; there is no background sweep.
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session
	expiry   time.Duration
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store whose sessions live for expiry.
func NewStore(expiry time.Duration, opts ...Option) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	s := &Store{
		sessions: make(map[string]Session),
		expiry:   expiry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Expiry returns the configured session lifetime.
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// Create starts a session for username and returns its id. The id is the
// hex SHA-256 of the username followed by fresh random material.
func (s *Store) Create(username string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to read session salt: %w", err)
	}
	sum := sha256.Sum256([]byte(username + hex.EncodeToString(salt)))
	id := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = Session{
		ID:        id,
		Username:  username,
		CreatedAt: s.now(),
	}
	return id, nil
}

// Validate reports whether id names a live session. An expired session is
// removed in the same critical section that detects it.
func (s *Store) Validate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	if s.now().Sub(sess.CreatedAt) > s.expiry {
		delete(s.sessions, id)
		return false
	}
	return true
}

// Username returns the user bound to id. It does not check expiry.
func (s *Store) Username(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return "", false
	}
	return sess.Username, true
}

// Destroy removes id if present.
func (s *Store) Destroy(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of stored sessions, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
