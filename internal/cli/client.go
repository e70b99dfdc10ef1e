package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"investments/internal/app"
	"investments/internal/notify"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Profile(ctx context.Context, accessToken string) (app.ProfileView, error) {
	var out app.ProfileView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/profile", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Wallet(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/wallet", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Invest(ctx context.Context, accessToken, amount, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/investments", accessToken, map[string]any{
		"amount": amount,
	}, &out, idem)
	return out, err
}

func (c *Client) Collect(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/collect", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) DeleteInvestments(ctx context.Context, accessToken string, confirm bool) (map[string]any, error) {
	path := "/v1/investments"
	if confirm {
		path += "?confirm=true"
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodDelete, path, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) ToggleAutoCollect(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/autocollect/toggle", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) ToggleNotifications(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/notifications/toggle", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Heartbeat(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/presence", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) AdminReload(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/reload", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) AdminMultiplier(ctx context.Context, accessToken, target, factor string, minutes int) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/multipliers", accessToken, map[string]any{
		"target":  target,
		"factor":  factor,
		"minutes": minutes,
	}, &out, "")
	return out, err
}

func (c *Client) AdminView(ctx context.Context, accessToken string, account uuid.UUID) (app.ProfileView, error) {
	var out app.ProfileView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/accounts/"+url.PathEscape(account.String()), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) AdminGive(ctx context.Context, accessToken string, account uuid.UUID, amount string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/accounts/"+url.PathEscape(account.String())+"/investments", accessToken, map[string]any{
		"amount": amount,
	}, &out, "")
	return out, err
}

func (c *Client) AdminDelete(ctx context.Context, accessToken string, account uuid.UUID) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodDelete, "/v1/admin/accounts/"+url.PathEscape(account.String())+"/investments", accessToken, nil, &out, "")
	return out, err
}

// Watch streams notifications for the token's account until ctx ends or the
// server closes the socket. Every heartbeat interval a frame is sent so the
// server keeps the account marked present.
func (c *Client) Watch(ctx context.Context, accessToken string, heartbeat time.Duration, fn func(notify.Message)) error {
	u, err := url.Parse(c.BaseURL + "/v1/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + accessToken}},
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if heartbeat > 0 {
		go func() {
			t := time.NewTicker(heartbeat)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if err := conn.Write(ctx, websocket.MessageText, []byte("ping")); err != nil {
						cancel()
						return
					}
				}
			}
		}()
	}

	for {
		var msg notify.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		fn(msg)
	}
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
