package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedStatus(t *testing.T, handler echo.HandlerFunc, remoteAddr string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/publish/market", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	require.NoError(t, handler(echo.New().NewContext(req, rec)))
	return rec.Code
}

func TestRateLimiter(t *testing.T) {
	handler := newRateLimiter(0.01, 2)(func(c echo.Context) error {
		return c.NoContent(http.StatusAccepted)
	})

	assert.Equal(t, http.StatusAccepted, limitedStatus(t, handler, "1.2.3.4:1000"))
	assert.Equal(t, http.StatusAccepted, limitedStatus(t, handler, "1.2.3.4:1001"))
	assert.Equal(t, http.StatusTooManyRequests, limitedStatus(t, handler, "1.2.3.4:1002"))

	// Buckets are per IP.
	assert.Equal(t, http.StatusAccepted, limitedStatus(t, handler, "5.6.7.8:1000"))
}
