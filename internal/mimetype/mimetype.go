// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package mimetype infers a content type from a file name.
package mimetype

import (
	"path"
	"strings"
)

// Default is returned when no rule matches.
const Default = "text/plain"

// Rule maps an extension to a content type.
type Rule struct {
	Extension   string
	ContentType string
}

// Rules is checked in order and the first rule whose extension occurs in
// the file name wins. Extensions which contain another extension must come
// before it.
var Rules = []Rule{
	{Extension: ".html", ContentType: "text/html"},
	{Extension: ".css", ContentType: "text/css"},
	{Extension: ".json", ContentType: "application/json"},
	{Extension: ".js", ContentType: "application/javascript"},
	{Extension: ".png", ContentType: "image/png"},
	{Extension: ".jpeg", ContentType: "image/jpeg"},
	{Extension: ".jpg", ContentType: "image/jpeg"},
	{Extension: ".gif", ContentType: "image/gif"},
	{Extension: ".svg", ContentType: "image/svg+xml"},
	{Extension: ".mp4", ContentType: "video/mp4"},
	{Extension: ".webm", ContentType: "video/webm"},
	{Extension: ".mp3", ContentType: "audio/mpeg"},
	{Extension: ".wav", ContentType: "audio/wav"},
	{Extension: ".pdf", ContentType: "application/pdf"},
	{Extension: ".docx", ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	{Extension: ".xml", ContentType: "application/xml"},
}

// ForPath returns the content type for the final element of p.
func ForPath(p string) string {
	name := path.Base(p)
	for _, r := range Rules {
		if strings.Contains(name, r.Extension) {
			return r.ContentType
		}
	}
	return Default
}
