package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/calliope-ai/calliope/internal/domain"
)

// TelegramTransport sends messages through the Telegram Bot API. The chat
// id is taken from the agent identity: for identities of the form
// "persona:chatID" the part after the last colon, otherwise the whole id.
type TelegramTransport struct {
	token  string
	client *http.Client
}

func NewTelegramTransport(token string) *TelegramTransport {
	return &TelegramTransport{
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *TelegramTransport) Deliver(ctx context.Context, agent domain.AgentID, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": chatID(agent),
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("telegram encode: %w", err)
	}

	url := "https://api.telegram.org/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("telegram send: status %d: %s", res.StatusCode, detail)
	}
	return nil
}

func chatID(agent domain.AgentID) string {
	id := string(agent)
	if i := strings.LastIndex(id, ":"); i >= 0 {
		return id[i+1:]
	}
	return id
}
