package onebot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, apiHandler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(apiHandler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return NewClient(Options{
		Host:        u.Hostname(),
		HTTPPort:    port,
		WSPort:      port,
		AccessToken: "secret",
	}, nil)
}

func TestDoActionSendsTokenAndParams(t *testing.T) {
	t.Parallel()

	var gotAuth, gotPath string
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"status":"ok","retcode":0,"data":{"message_id":99}}`))
	}))

	data, err := c.DoAction(context.Background(), "send_group_msg", map[string]any{
		"group_id": int64(42),
		"message":  "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "/send_group_msg", gotPath)
	assert.Equal(t, float64(42), gotBody["group_id"])
	assert.Equal(t, int64(99), data.Get("message_id").Int())
}

func TestDoActionFailedStatus(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"failed","retcode":1400}`))
	}))

	_, err := c.DoAction(context.Background(), "send_private_msg", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retcode=1400")
}

func TestGetLoginInfo(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get_login_info", r.URL.Path)
		w.Write([]byte(`{"status":"ok","retcode":0,"data":{"user_id":30003,"nickname":"amia"}}`))
	}))

	info, err := c.GetLoginInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(30003), info.UserID)
	assert.Equal(t, "amia", info.Nickname)
}

func TestRunDeliversMessageEvents(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		events := []string{
			`{"post_type":"meta_event","meta_event_type":"heartbeat"}`,
			`{"post_type":"message","message_type":"private","user_id":7,"message":"ping","raw_message":"ping"}`,
		}
		for _, e := range events {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(e)))
		}
		// Keep the connection open until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, _ := strconv.Atoi(u.Port())

	got := make(chan *Message, 1)
	c := NewClient(Options{
		Host:        u.Hostname(),
		HTTPPort:    port,
		WSPort:      port,
		AccessToken: "secret",
	}, func(ctx context.Context, msg *Message) {
		got <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case msg := <-got:
		assert.Equal(t, "private", msg.MessageType)
		assert.Equal(t, int64(7), msg.UserID)
		assert.Equal(t, "ping", msg.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message event")
	}
}
