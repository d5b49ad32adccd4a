package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesIndexWithVersion(t *testing.T) {
	h, err := Handler(`1.2.3"<x>`)
	require.NoError(t, err)

	for _, p := range []string{"/", "/index.html", "/orders"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		assert.Equal(t, http.StatusOK, rec.Code, p)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html", p)
		assert.Contains(t, rec.Body.String(), `content="1.2.3&#34;&lt;x&gt;"`, p)
	}
}

func TestHandlerServesAssets(t *testing.T) {
	h, err := Handler("dev")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "X-CSRF-Token")
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
}
