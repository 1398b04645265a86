// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package webserv assembles a single process HTTP/1.1 server which listens
// on one port per virtual server and multiplexes every connection over one
// epoll loop.
//
// Configuration is layered, later sources overriding earlier ones:
//
//   - the embedded default_config.yaml
//   - the file given by serve --config, rendered as a text/template
//   - environment variables prefixed with WEBSERV_, e.g. WEBSERV_LOG__LEVEL=debug
//
// The serve command runs the server until interrupted and the check command
// probes a running server, which makes it usable as a container health check.
package webserv
