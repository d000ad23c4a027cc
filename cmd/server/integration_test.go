package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake1318/sui-rpc-proxy/internal/config"
	"github.com/jake1318/sui-rpc-proxy/internal/middleware"
	"github.com/jake1318/sui-rpc-proxy/pkg/logger"
)

// backends are the three fake upstreams the proxy talks to
type backends struct {
	primary  *httptest.Server
	fallback *httptest.Server
	birdeye  *httptest.Server

	primaryCalls  int64
	fallbackCalls int64
	birdeyeCalls  int64
}

func (b *backends) close() {
	b.primary.Close()
	b.fallback.Close()
	b.birdeye.Close()
}

// wrap counts calls into an upstream handler
func wrap(counter *int64, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(counter, 1)
		handler(w, r)
	}
}

func jsonResult(result string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}
}

func newBackends(primary, fallback, birdeye http.HandlerFunc) *backends {
	b := &backends{}
	b.primary = httptest.NewServer(wrap(&b.primaryCalls, primary))
	b.fallback = httptest.NewServer(wrap(&b.fallbackCalls, fallback))
	b.birdeye = httptest.NewServer(wrap(&b.birdeyeCalls, birdeye))
	return b
}

// newTestServer wires the full middleware and routing stack against the fake
// upstreams, with queue delays shortened for tests.
func newTestServer(t *testing.T, b *backends, rpm int, overrides ...func(*config.Config)) (*gin.Engine, *Server) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	require.NoError(t, logger.Initialize(&logger.Config{Level: "error", Environment: "development"}))

	cfg := config.LoadConfig()
	cfg.RPC.PrimaryEndpoint = b.primary.URL
	cfg.RPC.FallbackEndpoint = b.fallback.URL
	cfg.RPC.ForwardTimeout = 2 * time.Second
	cfg.RPC.DirectTimeout = 2 * time.Second
	cfg.Birdeye.BaseURL = b.birdeye.URL
	cfg.Birdeye.APIKey = "test-key"
	cfg.RateLimit.RequestsPerMinute = rpm
	cfg.Queue.SettleDelay = 2 * time.Millisecond
	cfg.Queue.StepDelay = time.Millisecond
	cfg.Queue.MaxDelay = 10 * time.Millisecond
	for _, override := range overrides {
		override(cfg)
	}

	server, err := NewServer(cfg)
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(logger.RecoveryMiddleware())
	engine.Use(middleware.RequestSizeMiddleware())
	engine.Use(middleware.CORSMiddleware())
	server.router.SetupRoutes(engine)

	t.Cleanup(func() {
		server.responseCache.Stop()
		server.metadataCache.Stop()
		server.scheduler.Stop()
		server.rateLimiter.Stop()
	})

	return engine, server
}

func postSui(engine *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sui", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	return w
}

func TestProxyCaching(t *testing.T) {
	b := newBackends(
		jsonResult(`{"epoch":"100"}`),
		jsonResult(`"fallback"`),
		jsonResult(`{}`),
	)
	defer b.close()

	engine, _ := newTestServer(t, b, 500)

	request := `{"jsonrpc":"2.0","id":1,"method":"suix_getLatestSuiSystemState","params":[]}`

	first := postSui(engine, request)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get("X-Cache"))

	second := postSui(engine, request)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))

	// Cached response is byte-identical and the upstream saw one call.
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, int64(1), atomic.LoadInt64(&b.primaryCalls))
	assert.Equal(t, int64(0), atomic.LoadInt64(&b.fallbackCalls))
}

func TestErrorEnvelopeNotCached(t *testing.T) {
	b := newBackends(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"node overloaded"}}`))
		},
		jsonResult(`"fallback"`),
		jsonResult(`{}`),
	)
	defer b.close()

	engine, _ := newTestServer(t, b, 500)

	request := `{"jsonrpc":"2.0","id":1,"method":"sui_getObject","params":["0x1"]}`

	first := postSui(engine, request)
	require.Equal(t, http.StatusOK, first.Code)

	// The error envelope is relayed but not pinned for the TTL; the retry
	// goes back upstream.
	second := postSui(engine, request)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Empty(t, second.Header().Get("X-Cache"))
	assert.Equal(t, int64(2), atomic.LoadInt64(&b.primaryCalls))
}

func TestCoinMetadataEnrichment(t *testing.T) {
	b := newBackends(
		jsonResult(`null`),
		jsonResult(`"fallback"`),
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success":true,"data":{"decimals":6,"symbol":"FOO","name":"Foo Coin"}}`))
		},
	)
	defer b.close()

	engine, _ := newTestServer(t, b, 500)

	request := `{"jsonrpc":"2.0","id":1,"method":"suix_getCoinMetadata","params":["0xabc::mod::COIN"]}`

	t.Run("NullResultGetsEnriched", func(t *testing.T) {
		w := postSui(engine, request)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "birdeye-direct", w.Header().Get("X-Metadata-Source"))

		var resp struct {
			Result map[string]interface{} `json:"result"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(6), resp.Result["decimals"])
		assert.Equal(t, "FOO", resp.Result["symbol"])
		assert.Equal(t, "Foo Coin", resp.Result["name"])
		assert.Equal(t, "Token from Birdeye API", resp.Result["description"])
	})

	t.Run("RepeatServedFromMetadataCache", func(t *testing.T) {
		before := atomic.LoadInt64(&b.birdeyeCalls)

		w := postSui(engine, request)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
		assert.Equal(t, before, atomic.LoadInt64(&b.birdeyeCalls))
	})

	t.Run("MetadataCacheDump", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/metadata-cache", nil)
		engine.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Count    int                               `json:"count"`
			Metadata map[string]map[string]interface{} `json:"metadata"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Count)
		assert.Equal(t, "FOO", body.Metadata["0xabc::mod::COIN"]["symbol"])
	})
}

func TestMetadataSynthesis(t *testing.T) {
	b := newBackends(
		jsonResult(`null`),
		jsonResult(`"fallback"`),
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success":false}`))
		},
	)
	defer b.close()

	engine, _ := newTestServer(t, b, 500)

	w := postSui(engine, `{"jsonrpc":"2.0","id":1,"method":"suix_getCoinMetadata","params":["0xdead::beef::MYSTERY"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fallback", w.Header().Get("X-Metadata-Source"))

	var resp struct {
		Result map[string]interface{} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(9), resp.Result["decimals"])
	assert.Equal(t, "MYSTERY", resp.Result["symbol"])
	assert.Equal(t, "MYSTERY", resp.Result["name"])
	assert.NotEmpty(t, resp.Result["description"])
}

func TestFallbackActivation(t *testing.T) {
	t.Run("HTMLErrorPage", func(t *testing.T) {
		b := newBackends(
			func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte("<html>error</html>"))
			},
			jsonResult(`"from-fallback"`),
			jsonResult(`{}`),
		)
		defer b.close()

		engine, _ := newTestServer(t, b, 500)

		request := `{"jsonrpc":"2.0","id":1,"method":"sui_getChainIdentifier","params":[]}`

		w := postSui(engine, request)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "fallback-rpc", w.Header().Get("X-Source"))
		assert.Equal(t, int64(1), atomic.LoadInt64(&b.fallbackCalls))

		var resp struct {
			Result string `json:"result"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "from-fallback", resp.Result)

		// The fallback result was cached under the original key.
		second := postSui(engine, request)
		assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
		assert.Equal(t, int64(1), atomic.LoadInt64(&b.fallbackCalls))
	})

	t.Run("NonJSONBody", func(t *testing.T) {
		b := newBackends(
			func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte("garbage"))
			},
			jsonResult(`"ok"`),
			jsonResult(`{}`),
		)
		defer b.close()

		engine, _ := newTestServer(t, b, 500)

		w := postSui(engine, `{"jsonrpc":"2.0","id":2,"method":"sui_getChainIdentifier","params":[]}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "fallback-rpc", w.Header().Get("X-Source"))
	})

	t.Run("BothPathsFail", func(t *testing.T) {
		b := newBackends(
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			jsonResult(`{}`),
		)
		defer b.close()

		engine, _ := newTestServer(t, b, 500)

		w := postSui(engine, `{"jsonrpc":"2.0","id":3,"method":"sui_getChainIdentifier","params":[]}`)
		require.Equal(t, http.StatusBadGateway, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "Bad Gateway", body["error"])
		assert.NotEmpty(t, body["timestamp"])
	})

	t.Run("FallbackRateLimitSurfacesAs429", func(t *testing.T) {
		b := newBackends(
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			jsonResult(`{}`),
		)
		defer b.close()

		engine, _ := newTestServer(t, b, 500)

		w := postSui(engine, `{"jsonrpc":"2.0","id":4,"method":"sui_getChainIdentifier","params":[]}`)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})
}

func TestOverloadBypass(t *testing.T) {
	gate := make(chan struct{})
	b := newBackends(
		func(w http.ResponseWriter, r *http.Request) {
			<-gate
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"slow"}`))
		},
		jsonResult(`"direct"`),
		jsonResult(`{}`),
	)
	defer b.close()

	// A backlog of one is already too deep.
	engine, server := newTestServer(t, b, 500, func(cfg *config.Config) {
		cfg.Queue.QueueLimit = 0
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		body := `{"jsonrpc":"2.0","id":1,"method":"sui_getObject","params":["` + string(rune('a'+i)) + `"]}`
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := postSui(engine, body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Empty(t, w.Header().Get("X-Source"))
		}()

		if i == 0 {
			// The first request must hold the slot before the second parks.
			require.Eventually(t, func() bool {
				return atomic.LoadInt64(&b.primaryCalls) == 1
			}, time.Second, time.Millisecond)
		}
	}

	require.Eventually(t, func() bool {
		return server.admission.GetSnapshot().Length == 1
	}, time.Second, time.Millisecond)

	// With the backlog past its limit the next request never enqueues: it is
	// answered by the secondary endpoint and tagged as such.
	w := postSui(engine, `{"jsonrpc":"2.0","id":1,"method":"sui_getObject","params":["z"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fallback-rpc", w.Header().Get("X-Source"))
	assert.Equal(t, int64(1), atomic.LoadInt64(&b.fallbackCalls))
	assert.Equal(t, int64(1), atomic.LoadInt64(&b.primaryCalls))

	var resp struct {
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "direct", resp.Result)

	// Draining the primary serves the parked request normally.
	close(gate)
	wg.Wait()
	assert.Equal(t, int64(2), atomic.LoadInt64(&b.primaryCalls))
}

func TestMalformedRequest(t *testing.T) {
	b := newBackends(jsonResult(`{}`), jsonResult(`{}`), jsonResult(`{}`))
	defer b.close()

	engine, _ := newTestServer(t, b, 500)

	w := postSui(engine, `{not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Bad Request", body["error"])

	// Nothing reached either upstream.
	assert.Equal(t, int64(0), atomic.LoadInt64(&b.primaryCalls))
	assert.Equal(t, int64(0), atomic.LoadInt64(&b.fallbackCalls))
}

func TestServerRateLimit(t *testing.T) {
	b := newBackends(jsonResult(`"ok"`), jsonResult(`"ok"`), jsonResult(`{}`))
	defer b.close()

	engine, _ := newTestServer(t, b, 3)

	// Vary the params so no request is served from cache.
	for i := 0; i < 3; i++ {
		w := postSui(engine, `{"jsonrpc":"2.0","id":1,"method":"sui_getObject","params":["`+string(rune('a'+i))+`"]}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := postSui(engine, `{"jsonrpc":"2.0","id":1,"method":"sui_getObject","params":["z"]}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["limit"])
	assert.Equal(t, float64(4), body["current"])
	assert.Equal(t, float64(0), body["remaining"])
	assert.NotNil(t, body["resetIn"])
}

func TestHealthEndpoints(t *testing.T) {
	b := newBackends(jsonResult(`"ok"`), jsonResult(`"ok"`), jsonResult(`{}`))
	defer b.close()

	engine, _ := newTestServer(t, b, 2)

	// Exhaust the RPC rate limit; operational endpoints must stay reachable.
	for i := 0; i < 5; i++ {
		postSui(engine, `{"jsonrpc":"2.0","id":1,"method":"sui_getObject","params":["`+string(rune('a'+i))+`"]}`)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "caches")
	assert.Contains(t, body, "queue")
	assert.Contains(t, body, "rate_limit")

	rateLimit := body["rate_limit"].(map[string]interface{})
	assert.Equal(t, float64(2), rateLimit["limit"])
	assert.Equal(t, float64(5), rateLimit["current"])

	mw := httptest.NewRecorder()
	mreq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	engine.ServeHTTP(mw, mreq)
	require.Equal(t, http.StatusOK, mw.Code)

	var metricsBody map[string]interface{}
	require.NoError(t, json.Unmarshal(mw.Body.Bytes(), &metricsBody))
	assert.Equal(t, "sui-rpc-proxy", metricsBody["service"])
	assert.Contains(t, metricsBody, "metrics")
}
