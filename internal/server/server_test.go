package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"pipestock/internal/client"
	"pipestock/internal/configuration"
	"pipestock/internal/coordinator"
	"pipestock/internal/inventory"
	applog "pipestock/internal/logger"
	"pipestock/internal/metrics"
	"pipestock/internal/model"
	"pipestock/internal/store"
	"pipestock/internal/store/memstore"
)

var testNow = time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	srv       Server
	handler   http.Handler
	primary   *memstore.Backend
	secondary *memstore.Backend
	metrics   *metrics.Metrics
}

func newTestEnv(t *testing.T, configure ...func(*Server)) *testEnv {
	t.Helper()
	primary := memstore.NewBackend("primary")
	secondary := memstore.NewBackend("secondary")
	m := metrics.New()
	c := coordinator.New(primary.Store(), secondary.Store(), coordinator.Options{}, applog.Discard(), m)
	inv := inventory.NewService(c, model.DefaultStockPolicy(), 5, applog.Discard(), m)
	inv.Start(context.Background())
	t.Cleanup(inv.Stop)

	key, err := jwk.FromRaw([]byte("test-secret"))
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte("machine-key"), bcrypt.MinCost)
	require.NoError(t, err)

	s := Server{
		Inventory:     inv,
		Client:        client.Client{Client: &http.Client{Timeout: 5 * time.Second}, Logger: applog.Discard()},
		Logger:        applog.Discard(),
		Metrics:       m,
		AuthSecretKey: key,
		APIKeys:       []configuration.APIKey{{Actor: "scanner", Hash: string(hash)}},
		FCMTopic:      "low-stock",
		Now:           func() time.Time { return testNow },
	}
	for _, f := range configure {
		f(&s)
	}
	return &testEnv{srv: s, handler: s.Router(), primary: primary, secondary: secondary, metrics: m}
}

func (e *testEnv) token(t *testing.T, subject string) string {
	t.Helper()
	tok := jwt.New()
	if subject != "" {
		require.NoError(t, tok.Set(jwt.SubjectKey, subject))
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, e.srv.AuthSecretKey))
	require.NoError(t, err)
	return string(signed)
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			reqBody.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &reqBody)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) as(t *testing.T, actor string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + e.token(t, actor)}}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type itemJSON struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Quantity    int    `json:"quantity"`
	CreatedBy   string `json:"createdBy"`
	Status      string `json:"status"`
	Placeholder bool   `json:"placeholder"`
}

type txJSON struct {
	PipelineID   string `json:"pipelineId"`
	PipelineType string `json:"pipelineType"`
	Type         string `json:"type"`
	Quantity     int    `json:"quantity"`
	HandledBy    string `json:"handledBy"`
}

type mutationJSON struct {
	Item            itemJSON `json:"item"`
	Transaction     *txJSON  `json:"transaction"`
	Backend         string   `json:"backend"`
	LedgerError     string   `json:"ledger_error"`
	EnteredLowStock bool     `json:"entered_low_stock"`
}

type stockListJSON struct {
	State       string               `json:"state"`
	Backend     string               `json:"backend"`
	Error       string               `json:"error"`
	Placeholder bool                 `json:"placeholder"`
	Items       []itemJSON           `json:"items"`
	Types       []string             `json:"types"`
	Stats       model.InventoryStats `json:"stats"`
}

type txListJSON struct {
	State       string                   `json:"state"`
	Placeholder bool                     `json:"placeholder"`
	Items       []txJSON                 `json:"items"`
	Summary     model.TransactionSummary `json:"summary"`
}

var steelPipes = model.StockInput{Type: "Steel Pipes", Length: "6m", Diameter: "50mm", Material: "Carbon Steel", Quantity: 150}

func TestAuth(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"no credentials", nil, http.StatusUnauthorized},
		{"garbage token", http.Header{"Authorization": []string{"Bearer nope"}}, http.StatusUnauthorized},
		{"token without subject", e.as(t, ""), http.StatusUnauthorized},
		{"wrong api key", http.Header{apiKeyHeader: []string{"other-key"}}, http.StatusUnauthorized},
		{"token", e.as(t, "alice"), http.StatusOK},
		{"api key", http.Header{apiKeyHeader: []string{"machine-key"}}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, "/api/stock/get", nil, tt.header)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAPIKeyActorIsRecorded(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/stock/add", steelPipes, http.Header{apiKeyHeader: []string{"machine-key"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[mutationJSON](t, rec)
	assert.Equal(t, "scanner", resp.Item.CreatedBy)
	require.NotNil(t, resp.Transaction)
	assert.Equal(t, "scanner", resp.Transaction.HandledBy)
}

func TestStockLifecycle(t *testing.T) {
	e := newTestEnv(t)
	alice := e.as(t, "alice")

	rec := e.do(t, http.MethodPost, "/api/stock/add", steelPipes, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[mutationJSON](t, rec)
	assert.Equal(t, "primary", added.Backend)
	assert.Equal(t, "alice", added.Item.CreatedBy)
	assert.Equal(t, string(model.StatusInStock), added.Item.Status)
	require.NotNil(t, added.Transaction)
	assert.Equal(t, "incoming", added.Transaction.Type)
	assert.Equal(t, 150, added.Transaction.Quantity)
	assert.Equal(t, "Steel Pipes 6m×50mm", added.Transaction.PipelineType)

	rec = e.do(t, http.MethodGet, "/api/stock/get", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[stockListJSON](t, rec)
	assert.Equal(t, "loaded", list.State)
	assert.Equal(t, "primary", list.Backend)
	assert.False(t, list.Placeholder)
	require.Len(t, list.Items, 1)
	assert.Equal(t, []string{"Steel Pipes"}, list.Types)
	assert.Equal(t, model.InventoryStats{TotalItems: 1, TotalQuantity: 150}, list.Stats)

	rec = e.do(t, http.MethodPost, "/api/stock/quantity", map[string]any{"id": added.Item.ID, "quantity": 3}, e.as(t, "bob"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	adjusted := decode[mutationJSON](t, rec)
	assert.True(t, adjusted.EnteredLowStock)
	assert.Equal(t, string(model.StatusLowStock), adjusted.Item.Status)
	require.NotNil(t, adjusted.Transaction)
	assert.Equal(t, "outgoing", adjusted.Transaction.Type)
	assert.Equal(t, 147, adjusted.Transaction.Quantity)
	assert.Equal(t, "bob", adjusted.Transaction.HandledBy)

	rec = e.do(t, http.MethodGet, "/api/transactions/get", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[txListJSON](t, rec)
	assert.Equal(t, "loaded", txs.State)
	require.Len(t, txs.Items, 2)
	assert.Equal(t, model.TransactionSummary{TotalIncoming: 150, TotalOutgoing: 147, NetChange: 3}, txs.Summary)

	rec = e.do(t, http.MethodGet, "/api/transactions/get?type=outgoing", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	txs = decode[txListJSON](t, rec)
	require.Len(t, txs.Items, 1)
	assert.Equal(t, 147, txs.Items[0].Quantity)

	rec = e.do(t, http.MethodPost, "/api/stock/remove", map[string]string{"id": added.Item.ID}, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/stock/get", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[stockListJSON](t, rec)
	assert.Equal(t, "empty", list.State)
	assert.Empty(t, list.Items)

	// Transactions outlive the item they refer to.
	assert.Equal(t, 2, e.primary.Transactions.Len())
}

func TestStockEdit(t *testing.T) {
	e := newTestEnv(t)
	alice := e.as(t, "alice")
	added := decode[mutationJSON](t, e.do(t, http.MethodPost, "/api/stock/add", steelPipes, alice))

	edit := map[string]any{"id": added.Item.ID, "type": "Steel Pipes", "length": "6m", "diameter": "50mm",
		"material": "Stainless Steel", "quantity": 200}
	rec := e.do(t, http.MethodPost, "/api/stock/edit", edit, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[mutationJSON](t, rec)
	assert.Equal(t, 200, resp.Item.Quantity)
	assert.Equal(t, "alice", resp.Item.CreatedBy)
	require.NotNil(t, resp.Transaction)
	assert.Equal(t, "incoming", resp.Transaction.Type)
	assert.Equal(t, 50, resp.Transaction.Quantity)

	rec = e.do(t, http.MethodGet, "/api/stock/get?search=stainless", nil, alice)
	list := decode[stockListJSON](t, rec)
	require.Len(t, list.Items, 1)
	assert.Equal(t, 200, list.Items[0].Quantity)
}

func TestMutationErrors(t *testing.T) {
	e := newTestEnv(t)
	alice := e.as(t, "alice")

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"malformed json", "/api/stock/add", `{"type":`, http.StatusBadRequest},
		{"missing type", "/api/stock/add", model.StockInput{Quantity: 1}, http.StatusBadRequest},
		{"negative quantity", "/api/stock/add", model.StockInput{Type: "PVC Pipes", Quantity: -1}, http.StatusUnprocessableEntity},
		{"edit without id", "/api/stock/edit", steelPipes, http.StatusBadRequest},
		{"edit unknown id", "/api/stock/edit", map[string]any{"id": "missing", "type": "PVC Pipes"}, http.StatusNotFound},
		{"quantity without value", "/api/stock/quantity", map[string]any{"id": "x"}, http.StatusBadRequest},
		{"quantity unknown id", "/api/stock/quantity", map[string]any{"id": "missing", "quantity": 4}, http.StatusNotFound},
		{"negative set quantity", "/api/stock/quantity", map[string]any{"id": "missing", "quantity": -4}, http.StatusUnprocessableEntity},
		{"remove unknown id", "/api/stock/remove", map[string]any{"id": "missing"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, tt.path, tt.body, alice)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRequestBodyLimit(t *testing.T) {
	e := newTestEnv(t)
	in := steelPipes
	in.Supplier = strings.Repeat("x", maxRequestBytes)
	rec := e.do(t, http.MethodPost, "/api/stock/add", in, e.as(t, "alice"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, e.primary.Pipelines.Len())
}

func TestWritesFallBackAndReportUnavailable(t *testing.T) {
	e := newTestEnv(t)
	alice := e.as(t, "alice")

	e.primary.FailWrites(errors.New("primary down"))
	rec := e.do(t, http.MethodPost, "/api/stock/add", steelPipes, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "secondary", decode[mutationJSON](t, rec).Backend)

	e.secondary.FailWrites(errors.New("secondary down"))
	rec = e.do(t, http.MethodPost, "/api/stock/add", steelPipes, alice)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Contains(t, resp.Message, "primary down")
	assert.Contains(t, resp.Message, "secondary down")
}

func TestPlaceholders(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		e := newTestEnv(t)
		list := decode[stockListJSON](t, e.do(t, http.MethodGet, "/api/stock/get", nil, e.as(t, "alice")))
		assert.Equal(t, "empty", list.State)
		assert.False(t, list.Placeholder)
		assert.Empty(t, list.Items)
	})

	t.Run("enabled", func(t *testing.T) {
		e := newTestEnv(t, func(s *Server) { s.Placeholders = true })
		alice := e.as(t, "alice")

		list := decode[stockListJSON](t, e.do(t, http.MethodGet, "/api/stock/get", nil, alice))
		assert.Equal(t, "empty", list.State)
		assert.True(t, list.Placeholder)
		require.NotEmpty(t, list.Items)
		for _, i := range list.Items {
			assert.True(t, i.Placeholder)
		}
		assert.Equal(t, 1, list.Stats.LowStockItems)

		txs := decode[txListJSON](t, e.do(t, http.MethodGet, "/api/transactions/get?date=2024-03-06", nil, alice))
		assert.True(t, txs.Placeholder)
		assert.Len(t, txs.Items, 5)
		assert.Equal(t, model.TransactionSummary{TotalIncoming: 470, TotalOutgoing: 120, NetChange: 350}, txs.Summary)

		// Real data replaces the demo records.
		e.do(t, http.MethodPost, "/api/stock/add", steelPipes, alice)
		list = decode[stockListJSON](t, e.do(t, http.MethodGet, "/api/stock/get", nil, alice))
		assert.False(t, list.Placeholder)
		assert.Len(t, list.Items, 1)
	})
}

func TestTransactionsQueryValidation(t *testing.T) {
	e := newTestEnv(t)
	alice := e.as(t, "alice")
	for _, q := range []string{"type=sideways", "date=06-03-2024"} {
		rec := e.do(t, http.MethodGet, "/api/transactions/get?"+q, nil, alice)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestStats(t *testing.T) {
	e := newTestEnv(t)
	alice := e.as(t, "alice")
	e.do(t, http.MethodPost, "/api/stock/add", steelPipes, alice)
	e.do(t, http.MethodPost, "/api/stock/add", model.StockInput{Type: "Cast Iron Pipes", Length: "4m", Diameter: "150mm", Quantity: 3}, alice)

	type statsJSON struct {
		Stats              model.InventoryStats `json:"stats"`
		LowStock           []itemJSON           `json:"low_stock"`
		RecentTransactions txListJSON           `json:"recent_transactions"`
	}
	rec := e.do(t, http.MethodGet, "/api/stock/stats", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[statsJSON](t, rec)
	assert.Equal(t, model.InventoryStats{TotalItems: 2, TotalQuantity: 153, LowStockItems: 1}, stats.Stats)
	require.Len(t, stats.LowStock, 1)
	assert.Equal(t, "Cast Iron Pipes", stats.LowStock[0].Type)
	assert.Equal(t, "loaded", stats.RecentTransactions.State)
	assert.Len(t, stats.RecentTransactions.Items, 2)
}

func TestInventoryReadsFailWithBothStores(t *testing.T) {
	e := newTestEnv(t)
	alice := e.as(t, "alice")
	e.do(t, http.MethodPost, "/api/stock/add", steelPipes, alice)

	e.secondary.FailSubscribe(errors.New("secondary down"))
	e.primary.FailSubscribe(errors.New("primary down"))
	e.primary.DropSubscribers(errors.New("primary down"))

	require.Eventually(t, func() bool {
		return e.do(t, http.MethodGet, "/api/stock/stats", nil, alice).Code == http.StatusServiceUnavailable
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/api/stock/get", nil, alice).Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/health", nil, nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = e.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pipestock_http_requests_total{method="GET",path="/health",status="200"} 1`)

	rec = e.do(t, http.MethodGet, "/nowhere", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusCode(t *testing.T) {
	unavailable := &store.UnavailableError{
		Op:        "update pipelines",
		Primary:   store.NotFound("update", store.CollectionPipelines, "x"),
		Secondary: store.WriteFailed("update", store.CollectionPipelines, "x", errors.New("down")),
	}
	assert.Equal(t, http.StatusServiceUnavailable, statusCode(unavailable))
	assert.Equal(t, http.StatusNotFound, statusCode(errors.WithMessage(store.NotFound("delete", "pipelines", "x"), "ctx")))
	assert.Equal(t, http.StatusUnauthorized, statusCode(inventory.ErrNoActor))
	assert.Equal(t, http.StatusInternalServerError, statusCode(errors.New("boom")))
}

func dialLive(t *testing.T, e *testEnv, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, e.as(t, "alice"))
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	return conn
}

func readUntil[T any](t *testing.T, conn *websocket.Conn, done func(T) bool) T {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var v T
		require.NoError(t, conn.ReadJSON(&v))
		if done(v) {
			return v
		}
	}
}

func TestLiveStockFeed(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	conn := dialLive(t, e, ts, "/api/stock/live")
	first := readUntil(t, conn, func(l stockListJSON) bool { return true })
	assert.Equal(t, "empty", first.State)
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.LiveSubscribers.WithLabelValues(feedStock)))

	e.do(t, http.MethodPost, "/api/stock/add", steelPipes, e.as(t, "alice"))
	loaded := readUntil(t, conn, func(l stockListJSON) bool { return l.State == "loaded" })
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, "Steel Pipes", loaded.Items[0].Type)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(e.metrics.LiveSubscribers.WithLabelValues(feedStock)) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return e.primary.Pipelines.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond,
		"only the inventory cache should stay subscribed")
}

func TestLiveTransactionsFeedEndsWhenStoresFail(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.handler)
	defer ts.Close()
	alice := e.as(t, "alice")
	e.do(t, http.MethodPost, "/api/stock/add", steelPipes, alice)
	e.do(t, http.MethodPost, "/api/stock/add", model.StockInput{Type: "PVC Pipes", Length: "3m", Diameter: "75mm", Quantity: 20}, alice)

	conn := dialLive(t, e, ts, "/api/transactions/live?limit=1")
	defer conn.Close()
	first := readUntil(t, conn, func(l txListJSON) bool { return true })
	assert.Equal(t, "loaded", first.State)
	require.Len(t, first.Items, 1)

	e.secondary.FailSubscribe(errors.New("secondary down"))
	e.primary.DropSubscribers(errors.New("primary down"))
	failed := readUntil(t, conn, func(l txListJSON) bool { return l.State == "failed" })
	assert.Equal(t, "failed", failed.State)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}

func TestLiveRejectsBadLimit(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/transactions/live?limit=-2", nil, e.as(t, "alice"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLowStockAlert(t *testing.T) {
	got := make(chan client.FCMSendRequest, 1)
	fcm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req client.FCMSendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			got <- req
		}
		_, _ = w.Write([]byte(`{"message_id": 1}`))
	}))
	defer fcm.Close()

	e := newTestEnv(t, func(s *Server) {
		s.Client.FCMKey = "key"
		s.Client.FCMURL = fcm.URL
	})
	alice := e.as(t, "alice")
	added := decode[mutationJSON](t, e.do(t, http.MethodPost, "/api/stock/add", steelPipes, alice))
	rec := e.do(t, http.MethodPost, "/api/stock/quantity", map[string]any{"id": added.Item.ID, "quantity": 2}, alice)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case req := <-got:
		assert.Equal(t, "/topics/low-stock", req.To)
		assert.Equal(t, added.Item.ID, req.Data.PipelineID)
		assert.Equal(t, 2, req.Data.Quantity)
		assert.Contains(t, req.Notification.Body, "Steel Pipes 6m×50mm")
	case <-time.After(5 * time.Second):
		t.Fatal("no low stock alert sent")
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(e.metrics.LowStockAlerts.WithLabelValues("success")) == 1
	}, 5*time.Second, 10*time.Millisecond)
}
