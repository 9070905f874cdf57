package config

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Run("Env falls back when unset or blank", func(t *testing.T) {
		t.Setenv("TCG_TEST_VALUE", "  ")
		assert.Equal(t, "fallback", Env("TCG_TEST_VALUE", "fallback"))

		t.Setenv("TCG_TEST_VALUE", "set")
		assert.Equal(t, "set", Env("TCG_TEST_VALUE", "fallback"))
	})

	t.Run("EnvInt ignores garbage", func(t *testing.T) {
		t.Setenv("TCG_TEST_INT", "abc")
		assert.Equal(t, 7, EnvInt("TCG_TEST_INT", 7))

		t.Setenv("TCG_TEST_INT", "42")
		assert.Equal(t, 42, EnvInt("TCG_TEST_INT", 7))
	})

	t.Run("EnvBool", func(t *testing.T) {
		t.Setenv("TCG_TEST_BOOL", "true")
		assert.True(t, EnvBool("TCG_TEST_BOOL", false))

		t.Setenv("TCG_TEST_BOOL", "nope")
		assert.False(t, EnvBool("TCG_TEST_BOOL", false))
	})

	t.Run("EnvDuration", func(t *testing.T) {
		t.Setenv("TCG_TEST_DUR", "250ms")
		assert.Equal(t, 250*time.Millisecond, EnvDuration("TCG_TEST_DUR", time.Second))

		t.Setenv("TCG_TEST_DUR", "soon")
		assert.Equal(t, time.Second, EnvDuration("TCG_TEST_DUR", time.Second))
	})

	t.Run("EnvList trims and drops empties", func(t *testing.T) {
		t.Setenv("TCG_TEST_LIST", " http://a.test, ,http://b.test ")
		assert.Equal(t, []string{"http://a.test", "http://b.test"}, EnvList("TCG_TEST_LIST"))

		t.Setenv("TCG_TEST_LIST", "")
		assert.Empty(t, EnvList("TCG_TEST_LIST"))
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.InfoLevel, ParseLevel(""))
	assert.Equal(t, log.InfoLevel, ParseLevel("loud"))
	assert.Equal(t, log.DebugLevel, ParseLevel("debug"))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://app.test"}).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Origin", "http://app.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://app.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCustomLoggerMiddleware(t *testing.T) {
	h := CustomLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}
