package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"dripbot/internal/models"
	"dripbot/internal/pagination"
	"dripbot/internal/storage"
	"dripbot/internal/storage/stubs"
)

// fakeClient records everything the router sends to Telegram
type fakeClient struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopped  bool
}

func (c *fakeClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return tgbotapi.Message{MessageID: len(c.sent)}, nil
}

func (c *fakeClient) Request(msg tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, msg)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (c *fakeClient) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.updates
}

func (c *fakeClient) StopReceivingUpdates() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *fakeClient) messages() []tgbotapi.MessageConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, s := range c.sent {
		if m, ok := s.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeClient) callbackAnswers() []tgbotapi.CallbackConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []tgbotapi.CallbackConfig
	for _, r := range c.requests {
		if cb, ok := r.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb)
		}
	}
	return out
}

type startCall struct {
	chatID int64
	who    pagination.Identity
	link   models.InviteLink
}

// fakeEngine records calls; advance decides how Advance behaves
type fakeEngine struct {
	mu      sync.Mutex
	starts  []startCall
	tokens  []pagination.Token
	advance func(ack func(string)) error
	done    chan struct{}
}

func (e *fakeEngine) Start(ctx context.Context, chatID int64, who pagination.Identity, link models.InviteLink) (*models.UserSession, error) {
	e.mu.Lock()
	e.starts = append(e.starts, startCall{chatID: chatID, who: who, link: link})
	e.mu.Unlock()
	if e.done != nil {
		e.done <- struct{}{}
	}
	return &models.UserSession{ID: 1}, nil
}

func (e *fakeEngine) Advance(ctx context.Context, chatID, userID int64, t pagination.Token, ack func(string)) error {
	e.mu.Lock()
	e.tokens = append(e.tokens, t)
	e.mu.Unlock()
	if e.advance != nil {
		return e.advance(ack)
	}
	ack("")
	return nil
}

const testBotID = 7

func newTestBot(t *testing.T) (*Bot, *fakeClient, *fakeEngine, *stubs.MockDB) {
	t.Helper()
	db := stubs.NewMockDB()
	if err := db.Initialize(context.Background()); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	client := &fakeClient{}
	engine := &fakeEngine{}
	return New(testBotID, client, engine, db, zap.NewNop()), client, engine, db
}

func startMessage(text string, chatType string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: 100, FirstName: "Ann", LastName: "Lee", UserName: "ann"},
		Chat:      &tgbotapi.Chat{ID: 100, Type: chatType},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len("/start")}},
	}
}

func callbackUpdate(data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 100},
		Message: &tgbotapi.Message{MessageID: 3, Chat: &tgbotapi.Chat{ID: 100, Type: "private"}},
		Data:    data,
	}}
}

func TestBot_StartWithCode(t *testing.T) {
	bot, _, engine, db := newTestBot(t)
	link := db.AddInviteLink(testBotID, "promo", "Promo")

	bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: startMessage("/start promo", "private")})

	if len(engine.starts) != 1 {
		t.Fatalf("Expected 1 start, got %d", len(engine.starts))
	}
	call := engine.starts[0]
	if call.chatID != 100 {
		t.Errorf("Expected chat 100, got %d", call.chatID)
	}
	if call.link.ID != link.ID {
		t.Errorf("Expected link %d, got %d", link.ID, call.link.ID)
	}
	want := pagination.Identity{TelegramID: 100, FirstName: "Ann", LastName: "Lee", Username: "ann"}
	if call.who != want {
		t.Errorf("Expected identity %+v, got %+v", want, call.who)
	}
}

func TestBot_StartIgnoredWithoutValidCode(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		chatType string
	}{
		{name: "no code", text: "/start", chatType: "private"},
		{name: "unknown code", text: "/start nope", chatType: "private"},
		{name: "other bot's code", text: "/start foreign", chatType: "private"},
		{name: "group chat", text: "/start promo", chatType: "supergroup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot, client, engine, db := newTestBot(t)
			db.AddInviteLink(testBotID, "promo", "Promo")
			db.AddInviteLink(testBotID+1, "foreign", "Foreign")

			bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: startMessage(tt.text, tt.chatType)})

			if len(engine.starts) != 0 {
				t.Errorf("Expected no start, got %d", len(engine.starts))
			}
			if len(client.messages()) != 0 {
				t.Errorf("Expected no reply, got %d", len(client.messages()))
			}
		})
	}
}

func TestBot_CallbackAdvances(t *testing.T) {
	bot, client, engine, _ := newTestBot(t)

	bot.HandleUpdate(context.Background(), callbackUpdate("next:42:3"))

	if len(engine.tokens) != 1 {
		t.Fatalf("Expected 1 advance, got %d", len(engine.tokens))
	}
	if engine.tokens[0] != (pagination.Token{SessionID: 42, NextIndex: 3}) {
		t.Errorf("Unexpected token %+v", engine.tokens[0])
	}
	answers := client.callbackAnswers()
	if len(answers) != 1 {
		t.Fatalf("Expected exactly 1 callback answer, got %d", len(answers))
	}
	if answers[0].CallbackQueryID != "cb-1" || answers[0].Text != "" {
		t.Errorf("Unexpected answer %+v", answers[0])
	}
}

func TestBot_CallbackBadToken(t *testing.T) {
	for _, data := range []string{"", "next:", "next:a:1", "prev:1:2", "next:1:2:3"} {
		t.Run(data, func(t *testing.T) {
			bot, client, engine, _ := newTestBot(t)

			bot.HandleUpdate(context.Background(), callbackUpdate(data))

			if len(engine.tokens) != 0 {
				t.Errorf("Expected no advance for %q", data)
			}
			if got := len(client.callbackAnswers()); got != 1 {
				t.Errorf("Expected the callback to be answered once, got %d", got)
			}
		})
	}
}

func TestBot_CallbackBusy(t *testing.T) {
	bot, client, engine, _ := newTestBot(t)
	engine.advance = func(ack func(string)) error {
		ack(pagination.DefaultTexts().Processing)
		return pagination.ErrSessionBusy
	}

	bot.HandleUpdate(context.Background(), callbackUpdate("next:1:2"))

	answers := client.callbackAnswers()
	if len(answers) != 1 {
		t.Fatalf("Expected exactly 1 callback answer, got %d", len(answers))
	}
	if answers[0].Text != pagination.DefaultTexts().Processing {
		t.Errorf("Expected busy text, got %q", answers[0].Text)
	}
}

func TestBot_CallbackEngineError(t *testing.T) {
	bot, client, engine, _ := newTestBot(t)
	engine.advance = func(ack func(string)) error {
		return errors.New("store down")
	}

	bot.HandleUpdate(context.Background(), callbackUpdate("next:1:2"))

	if got := len(client.callbackAnswers()); got != 1 {
		t.Errorf("Expected the callback to be answered once, got %d", got)
	}
}

func TestBot_CallbackPanicRecovered(t *testing.T) {
	bot, client, engine, _ := newTestBot(t)
	engine.advance = func(ack func(string)) error {
		panic("boom")
	}

	bot.HandleUpdate(context.Background(), callbackUpdate("next:1:2"))

	if got := len(client.callbackAnswers()); got != 1 {
		t.Errorf("Expected the callback to be answered after a panic, got %d", got)
	}
}

func forwardedMessage(chatID int64, from *tgbotapi.User) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		MessageID:   55,
		From:        &tgbotapi.User{ID: 1},
		Chat:        &tgbotapi.Chat{ID: chatID, Type: "supergroup"},
		Text:        "hello",
		ForwardDate: int(time.Now().Unix()),
		ForwardFrom: from,
	}
	if from == nil {
		msg.ForwardSenderName = "Hidden"
	}
	return msg
}

func TestBot_ForwardLookup(t *testing.T) {
	const groupID = -100200

	t.Run("hidden origin", func(t *testing.T) {
		bot, client, _, db := newTestBot(t)
		db.SetSetting(storage.SettingStatsGroupID, "-100200")

		bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: forwardedMessage(groupID, nil)})

		msgs := client.messages()
		if len(msgs) != 1 || msgs[0].Text != hiddenOriginText {
			t.Fatalf("Expected hidden origin reply, got %+v", msgs)
		}
		if msgs[0].ReplyToMessageID != 55 {
			t.Errorf("Expected reply to message 55, got %d", msgs[0].ReplyToMessageID)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		bot, client, _, db := newTestBot(t)
		db.SetSetting(storage.SettingStatsGroupID, "-100200")

		bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: forwardedMessage(groupID, &tgbotapi.User{ID: 999})})

		msgs := client.messages()
		if len(msgs) != 1 || msgs[0].Text != unknownUserText {
			t.Fatalf("Expected unknown user reply, got %+v", msgs)
		}
	})

	t.Run("known user", func(t *testing.T) {
		bot, client, _, db := newTestBot(t)
		db.SetSetting(storage.SettingStatsGroupID, "-100200")
		link := db.AddInviteLink(testBotID, "promo", "Promo")
		if _, err := db.UpsertBotUser(context.Background(), models.BotUser{
			TelegramID: 500, BotID: testBotID, InviteLinkID: link.ID, FirstName: "Bob", Username: "bob",
		}); err != nil {
			t.Fatalf("Failed to seed user: %v", err)
		}

		bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: forwardedMessage(groupID, &tgbotapi.User{ID: 500})})

		msgs := client.messages()
		if len(msgs) != 1 {
			t.Fatalf("Expected 1 reply, got %d", len(msgs))
		}
		for _, want := range []string{"ID: 500", "Name: Bob", "Username: @bob", "Source link: Promo (promo)"} {
			if !strings.Contains(msgs[0].Text, want) {
				t.Errorf("Expected summary to contain %q, got:\n%s", want, msgs[0].Text)
			}
		}
	})

	t.Run("other chat", func(t *testing.T) {
		bot, client, _, db := newTestBot(t)
		db.SetSetting(storage.SettingStatsGroupID, "-100200")

		bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: forwardedMessage(-1, &tgbotapi.User{ID: 500})})

		if len(client.messages()) != 0 {
			t.Errorf("Expected no reply outside the stats group")
		}
	})

	t.Run("no stats group", func(t *testing.T) {
		bot, client, _, _ := newTestBot(t)

		bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: forwardedMessage(groupID, &tgbotapi.User{ID: 500})})

		if len(client.messages()) != 0 {
			t.Errorf("Expected no reply without a stats group")
		}
	})
}

func TestFormatUserSummary(t *testing.T) {
	seen := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	got := FormatUserSummary(&models.BotUser{
		TelegramID:  12,
		FirstName:   "Ann",
		LastName:    "Lee",
		FirstSeenAt: seen,
		LastSeenAt:  seen.Add(time.Hour),
		InviteLink:  models.InviteLink{ID: 3, Code: "spring", Name: "Spring"},
	})

	want := strings.Join([]string{
		"User info:",
		"ID: 12",
		"Name: Ann Lee",
		"Username: none",
		"Source link: Spring (spring)",
		"First seen: 2024-03-05 14:07:09",
		"Last seen: 2024-03-05 15:07:09",
	}, "\n")
	if got != want {
		t.Errorf("Unexpected summary:\n%s\nwant:\n%s", got, want)
	}
}

func TestBot_ServeUntilCancelled(t *testing.T) {
	bot, client, engine, db := newTestBot(t)
	db.AddInviteLink(testBotID, "promo", "Promo")
	client.updates = make(chan tgbotapi.Update, 1)
	engine.done = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- bot.Serve(ctx) }()

	client.updates <- tgbotapi.Update{Message: startMessage("/start promo", "private")}
	select {
	case <-engine.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Update was not handled")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected nil error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.stopped {
		t.Error("Expected polling to be stopped")
	}
	if len(client.requests) == 0 {
		t.Error("Expected webhook deletion before polling")
	}
}

func TestBot_ServeClosedChannel(t *testing.T) {
	bot, client, _, _ := newTestBot(t)
	client.updates = make(chan tgbotapi.Update)
	close(client.updates)

	if err := bot.Serve(context.Background()); err == nil {
		t.Error("Expected an error when the update channel closes")
	}
}

// fakeDispatcher accepts updates for a single bot
type fakeDispatcher struct {
	secret  string
	updates []tgbotapi.Update
}

func (d *fakeDispatcher) Secret(botID int64) (string, bool) {
	if botID != testBotID {
		return "", false
	}
	return d.secret, true
}

func (d *fakeDispatcher) Dispatch(botID int64, update tgbotapi.Update) bool {
	d.updates = append(d.updates, update)
	return true
}

func TestWebhookSecret(t *testing.T) {
	a := WebhookSecret("123:abc")
	if len(a) != 32 {
		t.Errorf("Expected 32 characters, got %d", len(a))
	}
	if a != WebhookSecret("123:abc") {
		t.Error("Expected a stable secret")
	}
	if a == WebhookSecret("123:abd") {
		t.Error("Expected different tokens to give different secrets")
	}
	if strings.Contains(WebhookURL("https://example.com", 7, "123:abc"), "123:abc") {
		t.Error("Webhook URL must not contain the token")
	}
}

func TestHTTPServer_Webhook(t *testing.T) {
	dispatcher := &fakeDispatcher{secret: WebhookSecret("token")}
	mux := http.NewServeMux()
	NewHTTPServer(dispatcher, zap.NewNop()).RegisterRoutes(mux)

	body := `{"update_id": 5, "message": {"message_id": 1, "text": "hi", "chat": {"id": 1, "type": "private"}}}`
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "accepted", method: http.MethodPost, path: "/telegram-webhook/7/" + dispatcher.secret, body: body, status: http.StatusOK},
		{name: "wrong secret", method: http.MethodPost, path: "/telegram-webhook/7/deadbeef", body: body, status: http.StatusForbidden},
		{name: "unknown bot", method: http.MethodPost, path: "/telegram-webhook/8/" + dispatcher.secret, body: body, status: http.StatusNotFound},
		{name: "bad bot id", method: http.MethodPost, path: "/telegram-webhook/x/" + dispatcher.secret, body: body, status: http.StatusNotFound},
		{name: "bad body", method: http.MethodPost, path: "/telegram-webhook/7/" + dispatcher.secret, body: "{", status: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, path: "/telegram-webhook/7/" + dispatcher.secret, status: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}

	if len(dispatcher.updates) != 1 {
		t.Fatalf("Expected 1 dispatched update, got %d", len(dispatcher.updates))
	}
	if dispatcher.updates[0].UpdateID != 5 || dispatcher.updates[0].Message == nil || dispatcher.updates[0].Message.Text != "hi" {
		t.Errorf("Unexpected update %+v", dispatcher.updates[0])
	}
}
