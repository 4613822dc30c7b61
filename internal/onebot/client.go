package onebot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"
)

// Handler receives normalized message events from the event stream.
type Handler func(ctx context.Context, msg *Message)

// Client talks to a OneBot implementation: a WebSocket connection for the
// event stream and HTTP POST calls for actions.
type Client struct {
	wsURL       string
	apiBase     string
	accessToken string

	logger  hclog.Logger
	handler Handler
	httpc   *http.Client

	mu   sync.Mutex
	conn *websocket.Conn
}

// Options configures a Client.
type Options struct {
	Host        string
	HTTPPort    int
	WSPort      int
	AccessToken string
	Logger      hclog.Logger
}

// NewClient creates a Client. The handler is invoked for every message
// event; non-message events are logged and dropped.
func NewClient(opts Options, handler Handler) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{
		wsURL:       fmt.Sprintf("ws://%s:%d/", opts.Host, opts.WSPort),
		apiBase:     fmt.Sprintf("http://%s:%d", opts.Host, opts.HTTPPort),
		accessToken: opts.AccessToken,
		logger:      logger.Named("onebot"),
		handler:     handler,
		httpc:       &http.Client{Timeout: 30 * time.Second},
	}
}

// Run connects to the event stream and dispatches events until ctx is
// canceled. Lost connections are redialed with capped exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		err := c.connect(ctx)
		if err == nil {
			backoff = time.Second
			err = c.readLoop(ctx)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("event stream disconnected, retrying",
			"error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.wsURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("event stream connected", "url", c.wsURL)
	return nil
}

// Close shuts the current WebSocket connection, unblocking readLoop.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("connection closed")
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.Close()
			return err
		}

		c.handleEvent(ctx, payload)
	}
}

func (c *Client) handleEvent(ctx context.Context, payload []byte) {
	postType := gjson.GetBytes(payload, "post_type").String()
	switch postType {
	case "message":
		msg := parseMessage(payload)
		c.logger.Debug("message event",
			"type", msg.MessageType,
			"user_id", msg.UserID,
			"group_id", msg.GroupID,
			"text_len", len(msg.Text))
		if c.handler != nil {
			c.handler(ctx, msg)
		}
	case "meta_event":
		c.logger.Trace("meta event",
			"meta_event_type", gjson.GetBytes(payload, "meta_event_type").String())
	default:
		c.logger.Debug("event ignored", "post_type", postType)
	}
}

// DoAction performs a OneBot action over the HTTP API and returns its
// data field. A non-ok status in the response is an error.
func (c *Client) DoAction(ctx context.Context, action string, params any) (gjson.Result, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal %s params: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/"+action, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: read response: %w", action, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%s: http %d", action, resp.StatusCode)
	}

	doc := gjson.ParseBytes(payload)
	if status := doc.Get("status").String(); status != "ok" && status != "async" {
		return gjson.Result{}, fmt.Errorf("%s: status=%s retcode=%d",
			action, status, doc.Get("retcode").Int())
	}
	return doc.Get("data"), nil
}

// SendGroupMsg sends a message to a group chat.
func (c *Client) SendGroupMsg(ctx context.Context, groupID int64, message string) error {
	_, err := c.DoAction(ctx, "send_group_msg", map[string]any{
		"group_id": groupID,
		"message":  message,
	})
	return err
}

// SendPrivateMsg sends a direct message to a user.
func (c *Client) SendPrivateMsg(ctx context.Context, userID int64, message string) error {
	_, err := c.DoAction(ctx, "send_private_msg", map[string]any{
		"user_id": userID,
		"message": message,
	})
	return err
}

// Reply answers a message in the chat it came from.
func (c *Client) Reply(ctx context.Context, msg *Message, text string) error {
	if msg.IsGroup() {
		return c.SendGroupMsg(ctx, msg.GroupID, text)
	}
	return c.SendPrivateMsg(ctx, msg.UserID, text)
}

// LoginInfo is the bot account identity.
type LoginInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

// GetLoginInfo returns the identity of the logged-in bot account.
func (c *Client) GetLoginInfo(ctx context.Context) (*LoginInfo, error) {
	data, err := c.DoAction(ctx, "get_login_info", map[string]any{})
	if err != nil {
		return nil, err
	}
	return &LoginInfo{
		UserID:   data.Get("user_id").Int(),
		Nickname: data.Get("nickname").String(),
	}, nil
}
