// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTextTemplateRenderer_Read(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the template fails to parse", func(t *testing.T) {
			ttr := RenderTextTemplate(strings.NewReader("port: {{ .Port"))

			_, err := io.ReadAll(ttr)

			var perr TextTemplateParseError
			require.ErrorAs(t, err, &perr)
		})

		t.Run("if env is called without a variable name", func(t *testing.T) {
			ttr := RenderTextTemplate(strings.NewReader(`root: {{ env }}`))

			_, err := io.ReadAll(ttr)

			var eerr TextTemplateExecError
			require.ErrorAs(t, err, &eerr)
		})
	})

	t.Run("will render env lookups", func(t *testing.T) {
		t.Run("using the variable when it is set", func(t *testing.T) {
			t.Setenv("WEBSERV_TEST_ROOT", "/srv/site")

			ttr := RenderTextTemplate(strings.NewReader(`root: {{ env "WEBSERV_TEST_ROOT" "www" }}`))

			b, err := io.ReadAll(ttr)
			require.NoError(t, err)
			require.Equal(t, "root: /srv/site", string(b))
		})

		t.Run("using the default when it is not set", func(t *testing.T) {
			ttr := RenderTextTemplate(strings.NewReader(`root: {{ env "WEBSERV_TEST_UNSET_ROOT" "www" }}`))

			b, err := io.ReadAll(ttr)
			require.NoError(t, err)
			require.Equal(t, "root: www", string(b))
		})
	})

	t.Run("will render an unset variable without a default as empty", func(t *testing.T) {
		ttr := RenderTextTemplate(strings.NewReader(`root: "{{ env "WEBSERV_TEST_UNSET_ROOT" }}"`))

		b, err := io.ReadAll(ttr)
		require.NoError(t, err)
		require.Equal(t, `root: ""`, string(b))
	})
}
