// Package adapters wraps the three outbound services the order core talks
// to over HTTP — broker-auth, portfolio, event bus — each behind its own
// resilience.Breaker, grounded on the HTTP-client-under-breaker shape of
// libs/marketdata/ib.Client and the plain REST client of the execution
// module's IBClient.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"trading-order-core/libs/domain"
	"trading-order-core/libs/resilience"
)

// ConnectionStatus mirrors a broker session's lifecycle (§4.5).
type ConnectionStatus string

const (
	ConnectionConnected     ConnectionStatus = "CONNECTED"
	ConnectionTokenExpired  ConnectionStatus = "TOKEN_EXPIRED"
	ConnectionDisconnected  ConnectionStatus = "DISCONNECTED"
)

// Connection is a usable broker session handle (§4.5).
type Connection struct {
	UserID     string
	Broker     string
	Token      string
	Status     ConnectionStatus
	Active     bool
	ExpiresAt  time.Time
}

// Usable reports whether a Connection may be used for a broker call: active,
// CONNECTED, and the token has not expired (§4.5).
func (c Connection) Usable(now time.Time) bool {
	return c.Active && c.Status == ConnectionConnected && now.Before(c.ExpiresAt)
}

// BrokerOrderStatus is the broker-reported terminal or non-terminal status
// classified by the execution engine (§4.9 step 4).
type BrokerOrderStatus string

const (
	BrokerStatusPending   BrokerOrderStatus = "PENDING"
	BrokerStatusPartial   BrokerOrderStatus = "PARTIAL_FILL"
	BrokerStatusFilled    BrokerOrderStatus = "FILLED"
	BrokerStatusRejected  BrokerOrderStatus = "REJECTED"
	BrokerStatusCancelled BrokerOrderStatus = "CANCELLED"
	BrokerStatusExpired   BrokerOrderStatus = "EXPIRED"
	BrokerStatusFailed    BrokerOrderStatus = "FAILED"
)

// BrokerOrderResponse is what submitOrder/getStatus return (§4.5, §4.9).
type BrokerOrderResponse struct {
	BrokerOrderID  string
	Status         BrokerOrderStatus
	FilledQuantity int64
	AvgFillPrice   float64
	Reason         string
	HTTPStatusCode int
}

// BrokerAuthAdapter implements the C2 surface of §4.5: connection
// management, token lifecycle, and order placement/cancellation calls,
// run under the Broker breaker with the §4.4 fallback (token-expired stub).
type BrokerAuthAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

func NewBrokerAuthAdapter(baseURL, apiKey string, timeout time.Duration, breaker *resilience.Breaker) *BrokerAuthAdapter {
	return &BrokerAuthAdapter{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// GetConnection returns a usable connection for user/broker, refreshing an
// expired token once before giving up (§4.5).
func (a *BrokerAuthAdapter) GetConnection(ctx context.Context, userID, broker string) (Connection, error) {
	conn, err := a.fetchConnection(ctx, userID, broker)
	if err != nil {
		return Connection{}, err
	}
	if conn.Usable(time.Now()) {
		return conn, nil
	}
	if conn.Status == ConnectionTokenExpired || (conn.Status == ConnectionConnected && !time.Now().Before(conn.ExpiresAt)) {
		refreshed, err := a.RefreshToken(ctx, userID, broker)
		if err != nil {
			return Connection{}, fmt.Errorf("adapters: refresh token for %s/%s: %w", userID, broker, err)
		}
		return refreshed, nil
	}
	return Connection{}, fmt.Errorf("adapters: connection for %s/%s is unusable (status=%s)", userID, broker, conn.Status)
}

func (a *BrokerAuthAdapter) fetchConnection(ctx context.Context, userID, broker string) (Connection, error) {
	fallback := func(ctx context.Context) (any, error) {
		return Connection{UserID: userID, Broker: broker, Status: ConnectionTokenExpired}, nil
	}
	result, err := a.breaker.RunWithFallback(ctx, func(ctx context.Context) (any, error) {
		var resp struct {
			Token     string    `json:"token"`
			Status    string    `json:"status"`
			ExpiresAt time.Time `json:"expires_at"`
		}
		path := fmt.Sprintf("/connections/%s/%s", userID, broker)
		if err := a.get(ctx, path, &resp); err != nil {
			return nil, err
		}
		return Connection{
			UserID:    userID,
			Broker:    broker,
			Token:     resp.Token,
			Status:    ConnectionStatus(resp.Status),
			Active:    true,
			ExpiresAt: resp.ExpiresAt,
		}, nil
	}, fallback)
	if err != nil {
		return Connection{}, err
	}
	return result.(Connection), nil
}

// ValidateToken reports whether a connection's token still passes the
// broker's own check (§4.5).
func (a *BrokerAuthAdapter) ValidateToken(ctx context.Context, conn Connection) (bool, error) {
	result, err := a.breaker.Run(ctx, func(ctx context.Context) (any, error) {
		var resp struct {
			Valid bool `json:"valid"`
		}
		path := fmt.Sprintf("/connections/%s/%s/validate", conn.UserID, conn.Broker)
		if err := a.get(ctx, path, &resp); err != nil {
			return nil, err
		}
		return resp.Valid, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// RefreshToken exchanges an expired token for a fresh one; a failed refresh
// is non-retryable and forces user re-authentication (§4.5).
func (a *BrokerAuthAdapter) RefreshToken(ctx context.Context, userID, broker string) (Connection, error) {
	result, err := a.breaker.Run(ctx, func(ctx context.Context) (any, error) {
		var resp struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expires_at"`
		}
		path := fmt.Sprintf("/connections/%s/%s/refresh", userID, broker)
		if err := a.post(ctx, path, nil, &resp); err != nil {
			return nil, err
		}
		return Connection{
			UserID:    userID,
			Broker:    broker,
			Token:     resp.Token,
			Status:    ConnectionConnected,
			Active:    true,
			ExpiresAt: resp.ExpiresAt,
		}, nil
	})
	if err != nil {
		return Connection{}, err
	}
	return result.(Connection), nil
}

// SubmitOrder places an order at the broker under the Broker breaker. Per
// §4.4 there is no fallback here: the call either succeeds or fails, never
// a fabricated success.
func (a *BrokerAuthAdapter) SubmitOrder(ctx context.Context, conn Connection, o *domain.Order, correlationID string) (BrokerOrderResponse, error) {
	result, err := a.breaker.Run(ctx, func(ctx context.Context) (any, error) {
		body := map[string]any{
			"symbol":    o.Symbol,
			"side":      o.Side,
			"quantity":  o.Quantity,
			"order_type": o.OrderType,
		}
		if o.LimitPrice != nil {
			body["limit_price"] = o.LimitPrice.String()
		}
		if o.StopPrice != nil {
			body["stop_price"] = o.StopPrice.String()
		}
		var resp BrokerOrderResponse
		path := fmt.Sprintf("/brokers/%s/orders", conn.Broker)
		if err := a.postWithAuth(ctx, path, body, conn.Token, correlationID, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return BrokerOrderResponse{}, err
	}
	return result.(BrokerOrderResponse), nil
}

// ModifyOrder changes quantity/price on a live broker order (§4.3 modify).
func (a *BrokerAuthAdapter) ModifyOrder(ctx context.Context, conn Connection, brokerOrderID string, newQuantity int64, correlationID string) (BrokerOrderResponse, error) {
	result, err := a.breaker.Run(ctx, func(ctx context.Context) (any, error) {
		body := map[string]any{"quantity": newQuantity}
		var resp BrokerOrderResponse
		path := fmt.Sprintf("/brokers/%s/orders/%s", conn.Broker, brokerOrderID)
		if err := a.putWithAuth(ctx, path, body, conn.Token, correlationID, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return BrokerOrderResponse{}, err
	}
	return result.(BrokerOrderResponse), nil
}

// CancelOrder asks the broker to cancel a live order (§4.9 step 7).
func (a *BrokerAuthAdapter) CancelOrder(ctx context.Context, conn Connection, brokerOrderID, correlationID string) error {
	_, err := a.breaker.Run(ctx, func(ctx context.Context) (any, error) {
		path := fmt.Sprintf("/brokers/%s/orders/%s/cancel", conn.Broker, brokerOrderID)
		return nil, a.postWithAuth(ctx, path, nil, conn.Token, correlationID, nil)
	})
	return err
}

// GetStatus polls the broker for an order's current status (§4.9 step 5).
func (a *BrokerAuthAdapter) GetStatus(ctx context.Context, conn Connection, brokerOrderID string) (BrokerOrderResponse, error) {
	result, err := a.breaker.Run(ctx, func(ctx context.Context) (any, error) {
		var resp BrokerOrderResponse
		path := fmt.Sprintf("/brokers/%s/orders/%s/status", conn.Broker, brokerOrderID)
		if err := a.get(ctx, path, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return BrokerOrderResponse{}, err
	}
	return result.(BrokerOrderResponse), nil
}

// GetHealth reports broker connectivity for readiness checks.
func (a *BrokerAuthAdapter) GetHealth(ctx context.Context) error {
	_, err := a.breaker.Run(ctx, func(ctx context.Context) (any, error) {
		return nil, a.get(ctx, "/health", nil)
	})
	return err
}

func (a *BrokerAuthAdapter) get(ctx context.Context, path string, out any) error {
	return a.do(ctx, http.MethodGet, path, nil, "", "", out)
}

func (a *BrokerAuthAdapter) post(ctx context.Context, path string, body any, out any) error {
	return a.do(ctx, http.MethodPost, path, body, "", "", out)
}

func (a *BrokerAuthAdapter) postWithAuth(ctx context.Context, path string, body any, token, correlationID string, out any) error {
	return a.do(ctx, http.MethodPost, path, body, token, correlationID, out)
}

func (a *BrokerAuthAdapter) putWithAuth(ctx context.Context, path string, body any, token, correlationID string, out any) error {
	return a.do(ctx, http.MethodPut, path, body, token, correlationID, out)
}

func (a *BrokerAuthAdapter) do(ctx context.Context, method, path string, body any, token, correlationID string, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("adapters: marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("adapters: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-Api-Key", a.apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if correlationID != "" {
		req.Header.Set("X-Correlation-Id", correlationID)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("adapters: broker-auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("adapters: broker-auth %s %s returned %d: %s", method, path, resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("adapters: decode response: %w", err)
	}
	return nil
}
