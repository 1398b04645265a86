// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cgi

import (
	"slices"
	"strconv"

	"github.com/z5labs/webserv/internal/httpmsg"
)

// Meta-variable names passed to every script.
const (
	QueryStringVar      = "QUERY_STRING"
	RequestMethodVar    = "REQUEST_METHOD"
	ScriptNameVar       = "SCRIPT_NAME"
	ContentLengthVar    = "CONTENT_LENGTH"
	ContentTypeVar      = "CONTENT_TYPE"
	GatewayInterfaceVar = "GATEWAY_INTERFACE"
	ServerProtocolVar   = "SERVER_PROTOCOL"
)

// GatewayInterface is the CGI revision implemented by the bridge.
const GatewayInterface = "CGI/1.1"

// Environment holds the meta-variables for a single script run.
type Environment map[string]string

// EnvironmentFor builds the meta-variables describing req. CONTENT_LENGTH
// is the length of the framed body, which the framer found with a
// case-insensitive Content-Length lookup. CONTENT_TYPE is looked up by its
// exact header name like every other request header.
func EnvironmentFor(req httpmsg.Request) Environment {
	contentLength := req.HeaderValue(httpmsg.HeaderContentLength)
	if n := len(req.Body()); n > 0 {
		contentLength = strconv.Itoa(n)
	}

	return Environment{
		QueryStringVar:      QueryString(req.URI),
		RequestMethodVar:    req.Method,
		ScriptNameVar:       ScriptName(req.URI),
		ContentLengthVar:    contentLength,
		ContentTypeVar:      req.HeaderValue(httpmsg.HeaderContentType),
		GatewayInterfaceVar: GatewayInterface,
		ServerProtocolVar:   req.Version,
	}
}

// List renders the environment as sorted "NAME=value" pairs.
func (e Environment) List() []string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	slices.Sort(names)

	list := make([]string, 0, len(names))
	for _, name := range names {
		list = append(list, name+"="+e[name])
	}
	return list
}
