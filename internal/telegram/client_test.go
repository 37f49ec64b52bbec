package telegram

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI answers Bot API calls with canned responses and records them.
type fakeAPI struct {
	srv *httptest.Server

	mu       sync.Mutex
	calls    []apiCall
	sendFail bool
}

type apiCall struct {
	method string
	chatID string
	text   string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Path is /bot<token>/<method>.
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		w.Header().Set("Content-Type", "application/json")

		switch method {
		case "getMe":
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"DansBot","username":"DansBot"}}`))
			return
		case "getUpdates":
			w.Write([]byte(`{"ok":true,"result":[]}`))
			return
		}

		var chatID, text string
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			chatID = r.FormValue("chat_id")
			text = r.FormValue("caption")
		} else {
			require.NoError(t, r.ParseForm())
			chatID = r.PostForm.Get("chat_id")
			text = r.PostForm.Get("text")
		}

		f.mu.Lock()
		f.calls = append(f.calls, apiCall{method: method, chatID: chatID, text: text})
		fail := f.sendFail
		f.mu.Unlock()

		if fail {
			w.Write([]byte(`{"ok":false,"error_code":400,"description":"chat not found"}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":1,"chat":{"id":1,"type":"private"}}}`))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) client(t *testing.T, adminChatID string) *Client {
	t.Helper()
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint("test-token", f.srv.URL+"/bot%s/%s")
	require.NoError(t, err)
	c, err := newClient(api, adminChatID, slog.Default())
	require.NoError(t, err)
	return c
}

func (f *fakeAPI) all() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func TestSendText_PostsToAdminChat(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t, "42")

	c.SendText(context.Background(), "✅ WhatsApp connected!")

	calls := api.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendMessage", calls[0].method)
	assert.Equal(t, "42", calls[0].chatID)
	assert.Equal(t, "✅ WhatsApp connected!", calls[0].text)
}

func TestSendText_NoAdminChatIsNoop(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t, "")

	c.SendText(context.Background(), "dropped")
	assert.Empty(t, api.all())
}

func TestSendPhoto_UploadsWithCaption(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t, "42")

	c.SendPhoto(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "Scan this QR")

	calls := api.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendPhoto", calls[0].method)
	assert.Equal(t, "42", calls[0].chatID)
	assert.Equal(t, "Scan this QR", calls[0].text)
}

func TestSendText_SwallowsAPIErrors(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(t, "42")
	api.mu.Lock()
	api.sendFail = true
	api.mu.Unlock()

	// Must not panic or propagate anything.
	c.SendText(context.Background(), "hello")
}

func TestNewClient_RejectsBadChatID(t *testing.T) {
	api := newFakeAPI(t)
	botAPI, err := tgbotapi.NewBotAPIWithAPIEndpoint("test-token", api.srv.URL+"/bot%s/%s")
	require.NoError(t, err)

	_, err = newClient(botAPI, "not-a-number", slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telegram chat id")
}
