package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashangit/seo-pro/internal/config"
	"github.com/hashangit/seo-pro/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Message is one outbound notification.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Notifier delivers user-facing notifications. Delivery is advisory:
// no business transition may depend on a notification landing.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// MailNotifier posts messages to an HTTP mail API. Without an API URL
// it degrades to logging the message, which keeps development
// environments mail-free.
type MailNotifier struct {
	client *http.Client
	log    *zap.Logger
	apiURL string
	apiKey string
	sender string
}

func NewMailNotifier(log *zap.Logger, cfg config.Config) *MailNotifier {
	return &MailNotifier{
		client: tracing.WrapHTTPClient(&http.Client{Timeout: 15 * time.Second}),
		log:    log.Named("notify.mail"),
		apiURL: cfg.MailAPIURL,
		apiKey: cfg.MailAPIKey,
		sender: cfg.MailSender,
	}
}

type mailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func (n *MailNotifier) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return nil
	}

	if n.apiURL == "" {
		n.log.Info("mail delivery skipped, no api configured",
			zap.Strings("to", msg.To),
			zap.String("subject", msg.Subject),
		)
		return nil
	}

	body, err := json.Marshal(mailRequest{
		From:    n.sender,
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.Body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail api status %d", resp.StatusCode)
	}
	return nil
}

var Module = fx.Module("notify",
	fx.Provide(func(log *zap.Logger, cfg config.Config) Notifier {
		return NewMailNotifier(log, cfg)
	}),
)
