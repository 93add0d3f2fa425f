package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// Outlook talks to the Microsoft Graph mail API with a bearer token.
type Outlook struct {
	base
	client  *http.Client
	baseURL string
	token   string
}

var _ ports.Connector = (*Outlook)(nil)

func NewOutlook(cfg Config) *Outlook {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = graphBaseURL
	}
	return &Outlook{
		base:    newBase("outlook", cfg.Account),
		client:  newHTTPClient(20 * time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.Token,
	}
}

// Authenticate verifies the token against /me.
func (o *Outlook) Authenticate(ctx context.Context) error {
	if o.token == "" {
		return fmt.Errorf("outlook token not configured for account %q", o.account)
	}
	var me struct {
		Mail string `json:"mail"`
	}
	if err := getJSON(ctx, o.client, o.baseURL+"/me", o.headers(), &me); err != nil {
		return fmt.Errorf("outlook auth check failed: %w", err)
	}
	o.ready = true
	return nil
}

// Search queries inbox messages. criteria: query, limit.
func (o *Outlook) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	query, _ := criteria["query"].(string)
	limit := 20
	if n, ok := criteria["limit"].(int); ok && n > 0 {
		limit = n
	}

	searchURL := fmt.Sprintf("%s/me/mailFolders/inbox/messages?$top=%d&$orderby=receivedDateTime desc", o.baseURL, limit)
	if query != "" {
		searchURL = fmt.Sprintf("%s/me/messages?$top=%d&$search=%s", o.baseURL, limit, url.QueryEscape(`"`+query+`"`))
	}

	var resp struct {
		Value []struct {
			ID               string `json:"id"`
			Subject          string `json:"subject"`
			BodyPreview      string `json:"bodyPreview"`
			ReceivedDateTime string `json:"receivedDateTime"`
			From             struct {
				EmailAddress struct {
					Name    string `json:"name"`
					Address string `json:"address"`
				} `json:"emailAddress"`
			} `json:"from"`
		} `json:"value"`
	}
	if err := getJSON(ctx, o.client, searchURL, o.headers(), &resp); err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(resp.Value))
	for _, msg := range resp.Value {
		rec := domain.Record{
			"id":      msg.ID,
			"subject": msg.Subject,
			"snippet": msg.BodyPreview,
			"from":    msg.From.EmailAddress.Address,
		}
		if msg.From.EmailAddress.Name != "" {
			rec["from_name"] = msg.From.EmailAddress.Name
		}
		if t, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
			rec["date"] = t
		}
		records = append(records, rec)
	}
	return records, nil
}

// ExecuteAction sends mail through Graph. Supported: send_email,
// reply_email, forward_email.
func (o *Outlook) ExecuteAction(ctx context.Context, actionType string, params map[string]interface{}) (string, error) {
	str := func(key string) string {
		s, _ := params[key].(string)
		return s
	}

	switch actionType {
	case "send_email":
		message := map[string]interface{}{
			"subject": str("subject"),
			"body": map[string]string{
				"contentType": "Text",
				"content":     str("body"),
			},
			"toRecipients": graphRecipients(str("to")),
		}
		if cc := str("cc"); cc != "" {
			message["ccRecipients"] = graphRecipients(cc)
		}
		payload := map[string]interface{}{"message": message}
		if err := postJSON(ctx, o.client, o.baseURL+"/me/sendMail", o.headers(), payload, nil); err != nil {
			return "", err
		}
		return "sent to " + str("to"), nil

	case "reply_email":
		id := str("original_id")
		if id == "" {
			return "", fmt.Errorf("reply requires original_id")
		}
		payload := map[string]string{"comment": str("body")}
		url := fmt.Sprintf("%s/me/messages/%s/reply", o.baseURL, id)
		if err := postJSON(ctx, o.client, url, o.headers(), payload, nil); err != nil {
			return "", err
		}
		return "replied to " + id, nil

	case "forward_email":
		id := str("original_id")
		if id == "" {
			return "", fmt.Errorf("forward requires original_id")
		}
		payload := map[string]interface{}{
			"comment":      str("body"),
			"toRecipients": graphRecipients(str("to")),
		}
		url := fmt.Sprintf("%s/me/messages/%s/forward", o.baseURL, id)
		if err := postJSON(ctx, o.client, url, o.headers(), payload, nil); err != nil {
			return "", err
		}
		return "forwarded " + id + " to " + str("to"), nil

	default:
		return "", fmt.Errorf("outlook cannot execute %q", actionType)
	}
}

func (o *Outlook) HealthCheck(ctx context.Context) bool { return o.ready }

func (o *Outlook) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + o.token}
}

func graphRecipients(addresses string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, addr := range strings.Split(addresses, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		out = append(out, map[string]interface{}{
			"emailAddress": map[string]string{"address": addr},
		})
	}
	return out
}
