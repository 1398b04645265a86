// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/z5labs/webserv/config/key"

	"github.com/stretchr/testify/require"
)

type sourceFunc func(Store) error

func (f sourceFunc) Apply(store Store) error {
	return f(store)
}

type portKey int

func (k portKey) Key() string {
	return strconv.Itoa(int(k))
}

type readFunc func([]byte) (int, error)

func (f readFunc) Read(b []byte) (int, error) {
	return f(b)
}

func TestRead(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if one of the Sources fails to apply itself to the store", func(t *testing.T) {
			srcErr := errors.New("failed to apply config")
			src := sourceFunc(func(s Store) error {
				return srcErr
			})

			_, err := Read(Map{"workers": 1}, src)
			require.ErrorIs(t, err, srcErr)
		})

		t.Run("if a Source sets a value with an empty key chain", func(t *testing.T) {
			src := sourceFunc(func(s Store) error {
				return s.Set(key.Chain{}, 1)
			})

			_, err := Read(src)

			var eerr EmptyKeyChainError
			require.ErrorAs(t, err, &eerr)
		})

		t.Run("if a Source nests a key under a non-map value", func(t *testing.T) {
			src := sourceFunc(func(s Store) error {
				return s.Set(key.Parse("log.level.name"), "debug")
			})

			_, err := Read(Map{"log": map[string]any{"level": "info"}}, src)

			var uerr UnexpectedKeyValueTypeError
			require.ErrorAs(t, err, &uerr)
			require.Equal(t, "level", uerr.Key)
		})

		t.Run("if a Source sets a value with an unknown key.Keyer", func(t *testing.T) {
			src := sourceFunc(func(s Store) error {
				return s.Set(key.Chain{key.Name("cgi"), portKey(8080)}, 1)
			})

			_, err := Read(src)

			var kerr UnknownKeyerError
			require.ErrorAs(t, err, &kerr)
		})
	})

	t.Run("will treat nested key chains as one path", func(t *testing.T) {
		src := sourceFunc(func(s Store) error {
			return s.Set(key.Chain{key.Name("cgi"), key.Parse("breaker.trip_after")}, 3)
		})

		m, err := Read(src)
		require.NoError(t, err)

		var cfg struct {
			CGI struct {
				Breaker struct {
					TripAfter int `config:"trip_after"`
				} `config:"breaker"`
			} `config:"cgi"`
		}
		require.NoError(t, m.Unmarshal(&cfg))
		require.Equal(t, 3, cfg.CGI.Breaker.TripAfter)
	})

	t.Run("will override earlier sources", func(t *testing.T) {
		t.Run("with values from later sources", func(t *testing.T) {
			first := Map{
				"workers": 1,
				"log": map[string]any{
					"level":  "info",
					"format": "json",
				},
			}
			second := Map{
				"log": map[string]any{
					"level": "debug",
				},
			}

			m, err := Read(first, second)
			require.NoError(t, err)

			var cfg struct {
				Workers int `config:"workers"`
				Log     struct {
					Level  string `config:"level"`
					Format string `config:"format"`
				} `config:"log"`
			}
			require.NoError(t, m.Unmarshal(&cfg))
			require.Equal(t, 1, cfg.Workers)
			require.Equal(t, "debug", cfg.Log.Level)
			require.Equal(t, "json", cfg.Log.Format)
		})
	})
}

func TestManager_Unmarshal(t *testing.T) {
	t.Run("will decode durations", func(t *testing.T) {
		t.Run("from strings", func(t *testing.T) {
			m, err := Read(Map{"timeout": "30s"})
			require.NoError(t, err)

			var cfg struct {
				Timeout time.Duration `config:"timeout"`
			}
			require.NoError(t, m.Unmarshal(&cfg))
			require.Equal(t, 30*time.Second, cfg.Timeout)
		})
	})

	t.Run("will decode encoding.TextUnmarshalers", func(t *testing.T) {
		t.Run("from strings", func(t *testing.T) {
			m, err := Read(Map{"level": "warn"})
			require.NoError(t, err)

			var cfg struct {
				Level slog.Level `config:"level"`
			}
			require.NoError(t, m.Unmarshal(&cfg))
			require.Equal(t, slog.LevelWarn, cfg.Level)
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if a encoding.TextUnmarshaler rejects the string", func(t *testing.T) {
			m, err := Read(Map{"level": "loud"})
			require.NoError(t, err)

			var cfg struct {
				Level slog.Level `config:"level"`
			}
			err = m.Unmarshal(&cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), "failed to coerce value")
		})

		t.Run("if a duration string is invalid", func(t *testing.T) {
			m, err := Read(Map{"timeout": "soon"})
			require.NoError(t, err)

			var cfg struct {
				Timeout time.Duration `config:"timeout"`
			}
			err = m.Unmarshal(&cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), "failed to coerce value")
		})
	})

	t.Run("will decode lists of structs", func(t *testing.T) {
		r := strings.NewReader(`
servers:
  - port: 8080
    root: www/site
    index: [index.html, home.html]
  - port: 8081
    root: www/other/
`)
		m, err := Read(FromYaml(r))
		require.NoError(t, err)

		var cfg struct {
			Servers []struct {
				Port  int      `config:"port"`
				Root  string   `config:"root"`
				Index []string `config:"index"`
			} `config:"servers"`
		}
		require.NoError(t, m.Unmarshal(&cfg))
		require.Len(t, cfg.Servers, 2)
		require.Equal(t, 8080, cfg.Servers[0].Port)
		require.Equal(t, []string{"index.html", "home.html"}, cfg.Servers[0].Index)
		require.Equal(t, "www/other/", cfg.Servers[1].Root)
	})
}

func TestYaml_Apply(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the underlying io.Reader fails", func(t *testing.T) {
			readErr := errors.New("failed to read")
			r := readFunc(func(b []byte) (int, error) {
				return 0, readErr
			})

			_, err := Read(FromYaml(r))
			require.ErrorIs(t, err, readErr)
		})

		t.Run("if the yaml is invalid", func(t *testing.T) {
			_, err := Read(FromYaml(strings.NewReader("servers: [")))

			var yerr InvalidYamlError
			require.ErrorAs(t, err, &yerr)
		})
	})
}

func TestJson_Apply(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the json is invalid", func(t *testing.T) {
			_, err := Read(FromJson(strings.NewReader("{")))

			var jerr InvalidJsonError
			require.ErrorAs(t, err, &jerr)
		})
	})

	t.Run("will set nested values", func(t *testing.T) {
		m, err := Read(FromJson(strings.NewReader(`{"cgi":{"dir":"cgi-bin"}}`)))
		require.NoError(t, err)

		var cfg struct {
			CGI struct {
				Dir string `config:"dir"`
			} `config:"cgi"`
		}
		require.NoError(t, m.Unmarshal(&cfg))
		require.Equal(t, "cgi-bin", cfg.CGI.Dir)
	})
}

func TestEnv_Apply(t *testing.T) {
	t.Run("will only apply variables with the prefix", func(t *testing.T) {
		src := Env{
			prefix: "WEBSERV_",
			environ: func() []string {
				return []string{
					"HOME=/root",
					"WEBSERV_WORKERS=4",
					"WEBSERV_LOG__LEVEL=debug",
					"WEBSERV_UPLOADS_DIR=/srv/uploads",
					"WEBSERV_=ignored",
					"MALFORMED",
				}
			},
		}

		m, err := Read(src)
		require.NoError(t, err)

		var cfg struct {
			Workers    int    `config:"workers"`
			UploadsDir string `config:"uploads_dir"`
			Log        struct {
				Level string `config:"level"`
			} `config:"log"`
		}
		require.NoError(t, m.Unmarshal(&cfg))
		require.Equal(t, 4, cfg.Workers)
		require.Equal(t, "/srv/uploads", cfg.UploadsDir)
		require.Equal(t, "debug", cfg.Log.Level)
	})
}
