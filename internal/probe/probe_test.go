// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastProber(retries int) *Prober {
	return New(Retries(retries), RetryWait(time.Millisecond, 5*time.Millisecond), Timeout(time.Second))
}

func TestProber_Check(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the status is not 2xx", func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}))
			defer srv.Close()

			err := fastProber(0).Check(context.Background(), srv.URL)

			var uerr UnhealthyError
			require.ErrorAs(t, err, &uerr)
			require.Equal(t, http.StatusNotFound, uerr.StatusCode)
		})

		t.Run("if the server can not be reached", func(t *testing.T) {
			srv := httptest.NewServer(http.NotFoundHandler())
			url := srv.URL
			srv.Close()

			err := fastProber(1).Check(context.Background(), url)

			require.Error(t, err)
		})

		t.Run("if the url is invalid", func(t *testing.T) {
			err := fastProber(0).Check(context.Background(), "://nope")

			require.Error(t, err)
		})
	})

	t.Run("will succeed on a 2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		err := fastProber(0).Check(context.Background(), srv.URL)

		require.NoError(t, err)
	})

	t.Run("will retry server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		err := fastProber(5).Check(context.Background(), srv.URL)

		require.NoError(t, err)
		require.Equal(t, int32(3), calls.Load())
	})
}
