package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBotAPI отвечает на getMe и sendMessage как Bot API
type fakeBotAPI struct {
	mu       sync.Mutex
	messages []string
	chatIDs  []string
	failSend bool
}

func (f *fakeBotAPI) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Liquidity","username":"liquidity_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		if f.failSend {
			fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was kicked from the group chat"}`)
			return
		}
		_ = r.ParseForm()
		f.mu.Lock()
		f.messages = append(f.messages, r.PostForm.Get("text"))
		f.chatIDs = append(f.chatIDs, r.PostForm.Get("chat_id"))
		f.mu.Unlock()
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"group"}}}`)
	default:
		http.NotFound(w, r)
	}
}

func newTestNotifier(t *testing.T, api *fakeBotAPI) *Notifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)

	n, err := NewNotifierWithEndpoint("test-token", srv.URL+"/bot%s/%s", -100, LangEN, srv.Client(), utils.Discard())
	require.NoError(t, err)
	return n
}

func TestNotifier_SendEvent(t *testing.T) {
	api := &fakeBotAPI{}
	n := newTestNotifier(t, api)

	event := domain.NewEvent(domain.EventAdminNewRequest, domain.EventData{
		RequestNumber: "GLR-2026-0003",
		OfferingID:    "off-1",
	}, time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC), "req-3")

	require.NoError(t, n.SendEvent(context.Background(), event))

	require.Len(t, api.messages, 1)
	assert.Contains(t, api.messages[0], "New redemption request GLR-2026-0003")
	assert.Equal(t, "-100", api.chatIDs[0])
}

func TestNotifier_APIErrorIsDeliveryFailure(t *testing.T) {
	n := newTestNotifier(t, &fakeBotAPI{failSend: true})

	err := n.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrChannelDelivery)
	assert.Contains(t, err.Error(), "kicked")
}

func TestNotifier_CancelledContext(t *testing.T) {
	api := &fakeBotAPI{}
	n := newTestNotifier(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, n.Send(ctx, "hello"))
	assert.Empty(t, api.messages)
}

func TestNewNotifier_RequiresTokenAndChat(t *testing.T) {
	_, err := NewNotifierWithEndpoint("", "http://localhost/bot%s/%s", 1, LangEN, http.DefaultClient, utils.Discard())
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = NewNotifierWithEndpoint("token", "http://localhost/bot%s/%s", 0, LangEN, http.DefaultClient, utils.Discard())
	assert.ErrorIs(t, err, domain.ErrConfig)
}
