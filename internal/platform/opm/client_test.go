package opm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/config"
	"github.com/spei-ledger/internal/domain/order"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(
		slog.New(slog.NewJSONHandler(io.Discard, nil)),
		&config.OPMConfig{BaseURL: server.URL + "/", APIKey: "secret", Timeout: time.Second},
		nil,
	)
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestClient_CreateOrder(t *testing.T) {
	signed := &order.SignedOrder{
		Order: order.Order{
			TrackingKey:        "SL20260403ABCDEF",
			Concept:            "PAGO FACTURA",
			Amount:             decimal.RequireFromString("500.00"),
			NumericalReference: 1234567,
		},
		Sign: "c2lnbmF0dXJl",
	}

	t.Run("Acknowledged", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, ordersPath, r.URL.Path)
			assert.Equal(t, "secret", r.Header.Get(apiKeyHeader))

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "SL20260403ABCDEF", body["trackingKey"])
			assert.Equal(t, "c2lnbmF0dXJl", body["sign"])

			writeJSON(w, http.StatusOK, `{"code":200,"data":{"id":"opm-1","trackingKey":"SL20260403ABCDEF"}}`)
		})

		ack, err := client.CreateOrder(context.Background(), signed)
		require.NoError(t, err)
		assert.Equal(t, "opm-1", ack.ID)
	})

	t.Run("Rejected", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, `{"code":1021,"error":"invalid beneficiary account"}`)
		})

		_, err := client.CreateOrder(context.Background(), signed)
		require.Error(t, err)
		assert.True(t, IsRejection(err))

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 1021, apiErr.Code)
		assert.Equal(t, "invalid beneficiary account", apiErr.Message)
	})

	t.Run("ErrorInOKEnvelope", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"code":3,"error":"duplicated tracking key"}`)
		})

		_, err := client.CreateOrder(context.Background(), signed)
		assert.True(t, IsRejection(err))
	})

	t.Run("ServerError", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadGateway, `upstream down`)
		})

		_, err := client.CreateOrder(context.Background(), signed)
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
		assert.False(t, IsRejection(err))
	})

	t.Run("MissingID", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"code":200,"data":{}}`)
		})

		_, err := client.CreateOrder(context.Background(), signed)
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})
}

func TestClient_CreateOrder_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusOK, `{"code":200,"data":{"id":"late"}}`)
	}))
	defer server.Close()

	client, err := NewClient(
		slog.New(slog.NewJSONHandler(io.Discard, nil)),
		&config.OPMConfig{BaseURL: server.URL, Timeout: 20 * time.Millisecond},
		nil,
	)
	require.NoError(t, err)

	_, err = client.CreateOrder(context.Background(), &order.SignedOrder{})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestClient_ListOrders(t *testing.T) {
	from := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	to := from.Add(30 * 24 * time.Hour)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "1", q.Get("type"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "50", q.Get("size"))
		assert.Equal(t, "1772582400000", q.Get("from"))

		writeJSON(w, http.StatusOK, `{"code":200,"data":[
			{"id":"opm-7","trackingKey":"NC123","amount":1200.00,"beneficiaryAccount":"646180000000000012","scattered":true,"sent":true},
			{"id":"opm-8","trackingKey":"NC124","amount":"15.5","canceled":true,"returned":true}
		]}`)
	})

	orders, err := client.ListOrders(context.Background(), ListOrdersQuery{
		Type: transaction.TypeIncoming,
		From: from,
		To:   to,
		Page: 2,
		Size: 50,
	})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "opm-7", orders[0].ID)
	assert.True(t, decimal.RequireFromString("1200").Equal(orders[0].Amount))
	assert.Equal(t, transaction.StatusScattered, orders[0].Status(transaction.TypeIncoming))
	assert.Equal(t, transaction.StatusCanceled, orders[1].Status(transaction.TypeIncoming))
}

func TestRemoteOrder_StatusWithoutFlags(t *testing.T) {
	var o RemoteOrder
	assert.Equal(t, transaction.StatusScattered, o.Status(transaction.TypeIncoming))
	assert.Equal(t, transaction.StatusPending, o.Status(transaction.TypeOutgoing))
}

func TestClient_GetBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, balancePath+"646180000000000012", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"code":200,"data":{"balance":10500.25,"availableBalance":10000.25,"inTransit":500}}`)
	})

	balance, err := client.GetBalance(context.Background(), "646180000000000012")
	require.NoError(t, err)
	assert.Equal(t, "646180000000000012", balance.Account)
	assert.True(t, decimal.RequireFromString("10500.25").Equal(balance.Current))
	assert.True(t, decimal.RequireFromString("500").Equal(balance.InTransit))
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(slog.New(slog.NewJSONHandler(io.Discard, nil)), &config.OPMConfig{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}
