package bot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// WebhookPath is the route prefix Telegram posts updates to
const WebhookPath = "/telegram-webhook/"

const webhookSecretKey = "dripbot-webhook"

// WebhookSecret derives the path secret of a bot from its token.
// Tokens never appear in URLs.
func WebhookSecret(token string) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(webhookSecretKey))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

// WebhookURL builds the full webhook address of a bot
func WebhookURL(baseURL string, botID int64, token string) string {
	return baseURL + WebhookPath + strconv.FormatInt(botID, 10) + "/" + WebhookSecret(token)
}

// Dispatcher hands webhook updates to running bots
type Dispatcher interface {
	// Secret returns the expected path secret of a running bot
	Secret(botID int64) (string, bool)
	// Dispatch queues the update for the bot and reports whether it was accepted
	Dispatch(botID int64, update tgbotapi.Update) bool
}

// HTTPServer receives webhook updates for every managed bot
type HTTPServer struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewHTTPServer creates the webhook endpoint
func NewHTTPServer(dispatcher Dispatcher, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterRoutes registers the webhook route on the provided mux
func (hs *HTTPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+WebhookPath+"{botID}/{secret}", hs.handleWebhook)
}

// handleWebhook validates the path secret and dispatches the update.
// Processing happens after the response so Telegram does not retry slow updates.
func (hs *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	botID, err := strconv.ParseInt(r.PathValue("botID"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	expected, ok := hs.dispatcher.Secret(botID)
	if !ok {
		hs.logger.Debug("Webhook for unknown bot", zap.Int64("bot_id", botID))
		http.NotFound(w, r)
		return
	}
	if !hmac.Equal([]byte(expected), []byte(r.PathValue("secret"))) {
		hs.logger.Warn("Webhook secret mismatch",
			zap.Int64("bot_id", botID),
			zap.String("remote_addr", r.RemoteAddr),
		)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		hs.logger.Error("Failed to decode webhook update", zap.Error(err), zap.Int64("bot_id", botID))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if !hs.dispatcher.Dispatch(botID, update) {
		hs.logger.Warn("Webhook update dropped", zap.Int64("bot_id", botID), zap.Int("update_id", update.UpdateID))
	}

	w.WriteHeader(http.StatusOK)
}
