// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux

package webserv

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/z5labs/webserv/config"
	"github.com/z5labs/webserv/internal/httpmsg"
	"github.com/z5labs/webserv/internal/otelconfig"
	"github.com/z5labs/webserv/internal/probe"
	"github.com/z5labs/webserv/internal/vserver"

	"github.com/stretchr/testify/require"
)

type configSourceFunc func(config.Store) error

func (f configSourceFunc) Apply(store config.Store) error {
	return f(store)
}

func testConfig(t *testing.T, workers uint) Config {
	t.Helper()

	dir := t.TempDir()
	site := filepath.Join(dir, "site")
	require.NoError(t, os.MkdirAll(site, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(site, "index.html"), []byte("<p>hi</p>"), 0o644))

	cfg := readConfig(t, config.Map{
		"servers": []any{
			map[string]any{
				"port": 0,
				"root": site,
			},
		},
		"uploads_dir": filepath.Join(dir, "uploads"),
		"form_log":    filepath.Join(dir, "form_data.txt"),
		"errors_root": filepath.Join(dir, "errors"),
	})
	cfg.Workers = workers
	return cfg
}

func TestRun(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the config.Source(s) fail to be read", func(t *testing.T) {
			srcErr := errors.New("failed to apply config")
			src := configSourceFunc(func(s config.Store) error {
				return srcErr
			})

			err := Run(context.Background(), io.Discard, src)

			var ierr ConfigReadError
			require.ErrorAs(t, err, &ierr)
			require.NotEmpty(t, ierr.Error())
			require.ErrorIs(t, ierr, srcErr)
		})

		t.Run("if the config can not be unmarshalled into Config", func(t *testing.T) {
			err := Run(context.Background(), io.Discard, DefaultConfig(), config.Map{
				"workers": "many",
			})

			var ierr ConfigUnmarshalError
			require.ErrorAs(t, err, &ierr)
			require.NotEmpty(t, ierr.Error())
		})

		t.Run("if a virtual server port is invalid", func(t *testing.T) {
			err := Run(context.Background(), io.Discard, DefaultConfig(), config.Map{
				"servers": []any{
					map[string]any{"port": 70000, "root": "."},
				},
			})

			var ierr AppBuildError
			require.ErrorAs(t, err, &ierr)
			require.NotEmpty(t, ierr.Error())

			var perr vserver.InvalidPortError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, 70000, perr.Port)
		})

		t.Run("if the trace exporter is unknown", func(t *testing.T) {
			err := Run(context.Background(), io.Discard, DefaultConfig(), config.Map{
				"otel": map[string]any{"exporter": "zipkin"},
			})

			var eerr otelconfig.UnknownExporterError
			require.ErrorAs(t, err, &eerr)
		})

		t.Run("if the app fails to run", func(t *testing.T) {
			ln, err := net.Listen("tcp4", "0.0.0.0:0")
			require.NoError(t, err)
			defer ln.Close()
			busy := ln.Addr().(*net.TCPAddr).Port

			err = Run(context.Background(), io.Discard, DefaultConfig(), config.Map{
				"servers": []any{
					map[string]any{"port": busy, "root": "."},
				},
			})

			var ierr AppRunError
			require.ErrorAs(t, err, &ierr)
			require.NotEmpty(t, ierr.Error())
		})
	})
}

func TestApp_Run(t *testing.T) {
	testCases := []struct {
		Name    string
		Workers uint
	}{
		{
			Name:    "on the event loop",
			Workers: 0,
		},
		{
			Name:    "on the worker pool",
			Workers: 2,
		},
	}

	for _, testCase := range testCases {
		t.Run("will serve static files "+testCase.Name, func(t *testing.T) {
			cfg := testConfig(t, testCase.Workers)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			app, err := Build(ctx, cfg, io.Discard)
			require.NoError(t, err)
			require.NoError(t, app.Listen())

			ports := app.BoundPorts()
			require.Len(t, ports, 1)

			errCh := make(chan error, 1)
			go func() {
				errCh <- app.Run(ctx)
			}()

			conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(ports[0]), 5*time.Second)
			require.NoError(t, err)
			defer conn.Close()
			require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

			// the configured port is 0 so that is what Host must name
			_, err = io.WriteString(conn, "GET /index.html HTTP/1.1\r\nHost: localhost:0\r\n\r\n")
			require.NoError(t, err)

			b, err := io.ReadAll(conn)
			require.NoError(t, err)

			resp := httpmsg.ParseResponse(b)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, "text/html", resp.HeaderValue(httpmsg.HeaderContentType))
			require.Equal(t, "9", resp.HeaderValue(httpmsg.HeaderContentLength))
			require.Equal(t, "close", resp.HeaderValue(httpmsg.HeaderConnection))
			require.Equal(t, "<p>hi</p>", string(resp.Body()))

			cancel()
			select {
			case err := <-errCh:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("app did not stop")
			}
		})
	}
}

func TestExecute(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the serve config file does not exist", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing.yaml")

			err := Execute("serve", "--config", path)

			var ierr ConfigReadError
			require.ErrorAs(t, err, &ierr)
			require.ErrorIs(t, err, os.ErrNotExist)
		})

		t.Run("if the serve config file is invalid json", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "webserv.json")
			require.NoError(t, os.WriteFile(path, []byte(`{"workers":`), 0o644))

			err := Execute("serve", "--config", path)

			var jerr config.InvalidJsonError
			require.ErrorAs(t, err, &jerr)
		})

		t.Run("if check gets a non 2xx response", func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}))
			defer srv.Close()

			err := Execute("check", "--url", srv.URL, "--retries", "0")

			var uerr probe.UnhealthyError
			require.ErrorAs(t, err, &uerr)
			require.Equal(t, http.StatusNotFound, uerr.StatusCode)
		})
	})

	t.Run("will return nil", func(t *testing.T) {
		t.Run("if check gets a 2xx response", func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			err := Execute("check", "--url", srv.URL, "--retries", "0")
			require.NoError(t, err)
		})
	})
}

func TestFileSource(t *testing.T) {
	t.Run("will render the file as a template", func(t *testing.T) {
		t.Setenv("WEBSERV_TEST_UPLOADS", "/srv/uploads")

		path := filepath.Join(t.TempDir(), "webserv.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`uploads_dir: {{env "WEBSERV_TEST_UPLOADS"}}`), 0o644))

		cfg := readConfig(t, fileSource(path))
		require.Equal(t, "/srv/uploads", cfg.UploadsDir)
	})

	t.Run("will decode json", func(t *testing.T) {
		t.Run("if the file name ends in .json", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "webserv.json")
			require.NoError(t, os.WriteFile(path, []byte(`{"form_log": "forms.txt"}`), 0o644))

			cfg := readConfig(t, fileSource(path))
			require.Equal(t, "forms.txt", cfg.FormLog)
		})
	})

	t.Run("will be overridden", func(t *testing.T) {
		t.Run("by environment variables", func(t *testing.T) {
			t.Setenv("WEBSERV_FORM_LOG", "env.txt")

			path := filepath.Join(t.TempDir(), "webserv.yaml")
			require.NoError(t, os.WriteFile(path, []byte(`form_log: file.txt`), 0o644))

			cfg := readConfig(t, fileSource(path), config.FromEnv(EnvPrefix))
			require.Equal(t, "env.txt", cfg.FormLog)
		})
	})
}
