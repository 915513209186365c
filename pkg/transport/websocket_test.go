package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketEcho(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := UpgradeWebSocket(w, r, 0, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			data, err := conn.Receive(0)
			if err != nil {
				return
			}
			if err := conn.Send(data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := &recordingLogger{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := Dial(ctx, url, DialOptions{Logger: rec})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send([]byte{0xA1, 0x01, 0x02}))
	got, err := conn.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA1, 0x01, 0x02}, got)

	assert.ErrorIs(t, conn.Send(nil), ErrMessageEmpty)

	require.Len(t, rec.events, 2)
	assert.Equal(t, 3, rec.events[0].Frame.Size)

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send([]byte{1}), ErrConnectionClosed)
}
