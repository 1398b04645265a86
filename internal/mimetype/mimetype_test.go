// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mimetype

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForPath(t *testing.T) {
	testCases := []struct {
		Path        string
		ContentType string
	}{
		{Path: "/site/index.html", ContentType: "text/html"},
		{Path: "style.css", ContentType: "text/css"},
		{Path: "data.json", ContentType: "application/json"},
		{Path: "app.js", ContentType: "application/javascript"},
		{Path: "photo.jpeg", ContentType: "image/jpeg"},
		{Path: "photo.jpg", ContentType: "image/jpeg"},
		{Path: "clip.webm", ContentType: "video/webm"},
		{Path: "README", ContentType: Default},
		{Path: "/assets.css/notes", ContentType: Default},
		{Path: "archive.html.bak", ContentType: "text/html"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Path, func(t *testing.T) {
			require.Equal(t, testCase.ContentType, ForPath(testCase.Path))
		})
	}
}
