// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vserver provides the read-only table mapping listening ports to virtual servers.
package vserver

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultIndex is served for directory requests when a virtual server
// configures no index files.
const DefaultIndex = "index.html"

// Config describes one virtual server.
type Config struct {
	Port  int      `config:"port"`
	Root  string   `config:"root"`
	Index []string `config:"index"`
}

// IndexFile returns the first configured index file or DefaultIndex.
func (c Config) IndexFile() string {
	if len(c.Index) == 0 || c.Index[0] == "" {
		return DefaultIndex
	}
	return c.Index[0]
}

// DuplicatePortError occurs when two virtual servers claim the same port.
type DuplicatePortError struct {
	Port int
}

// Error implements the [builtin.error] interface.
func (e DuplicatePortError) Error() string {
	return fmt.Sprintf("port configured by more than one virtual server: %d", e.Port)
}

// InvalidPortError occurs when a virtual server port is outside 0-65535.
type InvalidPortError struct {
	Port int
}

// Error implements the [builtin.error] interface.
func (e InvalidPortError) Error() string {
	return fmt.Sprintf("invalid virtual server port: %d", e.Port)
}

// Table is immutable once built and safe to share between goroutines.
type Table struct {
	servers []Config
}

// NewTable validates cfgs and normalizes every root by trimming trailing
// path separators and stray ';' terminators left by hand written configs.
func NewTable(cfgs ...Config) (Table, error) {
	seen := make(map[int]struct{}, len(cfgs))
	servers := make([]Config, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Port < 0 || cfg.Port > 65535 {
			return Table{}, InvalidPortError{Port: cfg.Port}
		}
		if _, ok := seen[cfg.Port]; ok {
			return Table{}, DuplicatePortError{Port: cfg.Port}
		}
		seen[cfg.Port] = struct{}{}

		servers = append(servers, Config{
			Port:  cfg.Port,
			Root:  NormalizeRoot(cfg.Root),
			Index: slices.Clone(cfg.Index),
		})
	}
	return Table{servers: servers}, nil
}

// NormalizeRoot trims trailing '/' and ';' characters. The filesystem
// root "/" is kept as is.
func NormalizeRoot(root string) string {
	trimmed := strings.TrimRight(root, "/;")
	if trimmed == "" && strings.HasPrefix(root, "/") {
		return "/"
	}
	return trimmed
}

// Lookup finds the virtual server bound to port by exact match.
func (t Table) Lookup(port int) (Config, bool) {
	for _, s := range t.servers {
		if s.Port == port {
			s.Index = slices.Clone(s.Index)
			return s, true
		}
	}
	return Config{}, false
}

// Ports returns the configured ports in configuration order.
func (t Table) Ports() []int {
	ports := make([]int, len(t.servers))
	for i, s := range t.servers {
		ports[i] = s.Port
	}
	return ports
}

// Len returns the number of virtual servers.
func (t Table) Len() int {
	return len(t.servers)
}
