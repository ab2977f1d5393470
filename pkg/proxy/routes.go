// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	perrors "github.com/absmach/weaprous/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultHost and DefaultPort name the backend used when nothing matches.
	DefaultHost = "127.0.0.1"
	DefaultPort = 9000

	// PolicyRoundRobin is accepted as a label; selection is uniform-random.
	PolicyRoundRobin = "round-robin"
)

// Route lists the candidate backends for one host key.
type Route struct {
	Backends []string `yaml:"backends"`
	Policy   string   `yaml:"policy"`
}

// UnmarshalYAML accepts a scalar "host:port", a list of them, or a
// {backends, policy} mapping.
func (r *Route) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		r.Backends = []string{single}
		r.Policy = PolicyRoundRobin
		return nil
	}
	var list []string
	if err := unmarshal(&list); err == nil {
		r.Backends = list
		r.Policy = PolicyRoundRobin
		return nil
	}

	type plain Route
	var p plain
	if err := unmarshal(&p); err != nil {
		return fmt.Errorf("route must be \"host:port\" or {backends, policy}: %w", err)
	}
	*r = Route(p)
	if r.Policy == "" {
		r.Policy = PolicyRoundRobin
	}
	return nil
}

// Table maps a hostname or "hostname:port" key to its route. It is not
// modified after loading.
type Table map[string]Route

// ParseRoutes decodes a YAML routing table.
func ParseRoutes(data []byte) (Table, error) {
	t := Table{}
	if err := yaml.UnmarshalStrict(data, &t); err != nil {
		return nil, perrors.Wrap(err, "failed to parse routes")
	}
	return t, nil
}

// LoadRoutes reads a YAML routing table from path.
func LoadRoutes(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrap(err, "failed to read routes file "+path)
	}
	return ParseRoutes(data)
}

// Lookup returns the route for hostname, trying the bare name first and
// then "hostname:listenPort".
func (t Table) Lookup(hostname string, listenPort int) (Route, string, bool) {
	if r, ok := t[hostname]; ok {
		return r, hostname, true
	}
	key := hostname + ":" + strconv.Itoa(listenPort)
	if r, ok := t[key]; ok {
		return r, key, true
	}
	return Route{}, hostname, false
}

// Pick chooses one backend of r. With more than one candidate the choice
// is uniform-random whatever the policy label says.
func (r Route) Pick(intn func(int) int) string {
	switch len(r.Backends) {
	case 0:
		return ""
	case 1:
		return r.Backends[0]
	default:
		if intn == nil {
			intn = rand.IntN
		}
		return r.Backends[intn(len(r.Backends))]
	}
}

// SplitBackend parses a "host:port" entry. A missing separator yields the
// default backend; an invalid port yields DefaultPort with the host kept.
func SplitBackend(entry string) (string, int) {
	host, portStr, ok := strings.Cut(entry, ":")
	if !ok {
		return DefaultHost, DefaultPort
	}
	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil || port <= 0 || port > 65535 {
		return host, DefaultPort
	}
	return host, port
}
