// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux

package webserv

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/z5labs/webserv/config"
	"github.com/z5labs/webserv/internal/probe"
	"github.com/z5labs/webserv/internal/try"

	"github.com/spf13/cobra"
)

// EnvPrefix marks environment variables which override config values,
// e.g. WEBSERV_LOG__LEVEL=debug.
const EnvPrefix = "WEBSERV_"

// Execute runs the webserv command tree with args. OS interrupts cancel
// the context seen by the running command.
func Execute(args ...string) error {
	cmd := NewCommand()
	cmd.SetArgs(args)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancel()

	return cmd.ExecuteContext(ctx)
}

// NewCommand returns the root webserv command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "webserv",
		Short:         "Serve static files, uploads and CGI scripts over HTTP/1.1",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCommand(),
		newCheckCommand(),
	)
	return cmd
}

func newServeCommand() *cobra.Command {
	var (
		configPath string
		srcs       []config.Source
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server until interrupted",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) (err error) {
			defer try.Recover(&err)

			srcs = append(srcs, DefaultConfig())
			if configPath != "" {
				srcs = append(srcs, fileSource(configPath))
			}
			srcs = append(srcs, config.FromEnv(EnvPrefix))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer try.Recover(&err)

			return Run(cmd.Context(), cmd.ErrOrStderr(), srcs...)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML or JSON config file, rendered as a text/template first")
	return cmd
}

func fileSource(path string) config.Source {
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}

	r := config.RenderTextTemplate(config.NewFileReader(os.DirFS(dir), name))
	if strings.EqualFold(filepath.Ext(name), ".json") {
		return config.FromJson(r)
	}
	return config.FromYaml(r)
}

func newCheckCommand() *cobra.Command {
	var (
		url     string
		retries int
		timeout time.Duration
		prober  *probe.Prober
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Exit successfully if a running server answers GET with a 2xx status",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) (err error) {
			defer try.Recover(&err)

			prober = probe.New(
				probe.Retries(retries),
				probe.Timeout(timeout),
				probe.LogHandler(newCheckLogHandler(cmd.ErrOrStderr())),
			)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer try.Recover(&err)

			return prober.Check(cmd.Context(), url)
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8080/", "URL to GET")
	cmd.Flags().IntVar(&retries, "retries", 3, "retries after a failed attempt")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "timeout for each attempt")
	return cmd
}

func newCheckLogHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn})
}
