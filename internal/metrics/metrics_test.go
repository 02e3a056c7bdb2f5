package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"shopfront/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_DomainCounters(t *testing.T) {
	m := New()

	m.OrderTransitioned(domain.OrderStatusPaid)
	m.OrderTransitioned(domain.OrderStatusPaid)
	m.OrderTransitioned(domain.OrderStatusCancelled)
	m.StockRejected()
	m.OutboxPublished("orders.lifecycle")
	m.OutboxFailed()
	m.OutboxFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrderTransition.WithLabelValues("paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrderTransition.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockRejections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxSent.WithLabelValues("orders.lifecycle")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxFailures))
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	for _, path := range []string{"/api/orders/a", "/api/orders/b", "/ok"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET /api/orders/{id}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET /ok", "200")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.StockRejected()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "shopfront_orders_stock_rejections_total 1"))
}
