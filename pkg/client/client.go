// Package client is a typed HTTP client for the command relay, for host and
// participant processes written in Go.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cwrk-planet/command-relay/pkg/httputil"
)

var (
	ErrRoomNotFound   = errors.New("relay: room not found")
	ErrInvalidPayload = errors.New("relay: invalid payload")
	ErrQueueFull      = errors.New("relay: queue full")
	ErrRateLimited    = errors.New("relay: too many requests")
)

// APIError: ответ сервера, не покрытый сентинелами выше.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay: http %d: %s", e.Status, e.Message)
}

type Options struct {
	BaseURL    string // http://localhost:8080
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	base *url.URL
	http *http.Client
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("relay client: empty base url")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("relay client: base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		if opts.Timeout <= 0 {
			opts.Timeout = 5 * time.Second
		}
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{base: base, http: hc}, nil
}

// Host создаёт комнату и возвращает её код.
func (c *Client) Host(ctx context.Context) (string, error) {
	var out struct {
		RoomCode string `json:"room_code"`
	}
	if err := c.do(ctx, http.MethodPost, "/host", nil, &out); err != nil {
		return "", err
	}
	return out.RoomCode, nil
}

func (c *Client) Join(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodPost, "/join/"+url.PathEscape(code), nil, nil)
}

// Send отправляет любое JSON-кодируемое значение; json.RawMessage уходит как есть.
func (c *Client) Send(ctx context.Context, code string, cmd any) error {
	body, err := json.Marshal(struct {
		Command any `json:"command"`
	}{Command: cmd})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return c.do(ctx, http.MethodPost, "/send/"+url.PathEscape(code), body, nil)
}

// Receive забирает все накопленные команды комнаты.
func (c *Client) Receive(ctx context.Context, code string) ([]json.RawMessage, error) {
	var out struct {
		Commands []json.RawMessage `json:"commands"`
	}
	if err := c.do(ctx, http.MethodGet, "/receive/"+url.PathEscape(code), nil, &out); err != nil {
		return nil, err
	}
	if out.Commands == nil {
		out.Commands = []json.RawMessage{}
	}
	return out.Commands, nil
}

func (c *Client) Close(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(code), nil, nil)
}

type RoomInfo struct {
	RoomCode       string    `json:"room_code"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Pending        int       `json:"pending"`
}

func (c *Client) Info(ctx context.Context, code string) (RoomInfo, error) {
	var out RoomInfo
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(code), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rid, ok := httputil.RequestID(ctx); ok && rid != "" {
		req.Header.Set(httputil.HeaderRequestID, rid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("relay client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body httputil.ErrorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrRoomNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return ErrInvalidPayload
	case resp.StatusCode == http.StatusTooManyRequests && body.Error == "Queue full":
		return ErrQueueFull
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	}
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
