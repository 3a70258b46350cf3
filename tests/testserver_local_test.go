//go:build local

package tests

import (
	"context"
	"testing"
)

// NewTestServer returns the address of a server started with `docker compose up`.
func NewTestServer(tb testing.TB, ctx context.Context) (baseURL string) {
	tb.Helper()

	return "http://127.0.0.1:4000"
}
