package connectors

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

const gmailBaseURL = "https://gmail.googleapis.com/gmail/v1"

// Gmail talks to the Gmail REST API with a bearer token. Search reads
// message metadata; send/reply/forward build RFC 822 payloads.
type Gmail struct {
	base
	client  *http.Client
	baseURL string
	token   string
	address string
}

var _ ports.Connector = (*Gmail)(nil)

func NewGmail(cfg Config) *Gmail {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = gmailBaseURL
	}
	return &Gmail{
		base:    newBase("gmail", cfg.Account),
		client:  newHTTPClient(20 * time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.Token,
		address: cfg.extra("address", ""),
	}
}

// Authenticate verifies the token by fetching the profile.
func (g *Gmail) Authenticate(ctx context.Context) error {
	if g.token == "" {
		return fmt.Errorf("gmail token not configured for account %q", g.account)
	}
	var profile struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := getJSON(ctx, g.client, g.baseURL+"/users/me/profile", g.headers(), &profile); err != nil {
		return fmt.Errorf("gmail auth check failed: %w", err)
	}
	if g.address == "" {
		g.address = profile.EmailAddress
	}
	g.ready = true
	return nil
}

// Search runs a Gmail query and hydrates metadata for each hit.
// criteria: query (Gmail search syntax), limit.
func (g *Gmail) Search(ctx context.Context, criteria map[string]interface{}) ([]domain.Record, error) {
	query, _ := criteria["query"].(string)
	limit := 20
	if n, ok := criteria["limit"].(int); ok && n > 0 {
		limit = n
	}

	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	listURL := fmt.Sprintf("%s/users/me/messages?maxResults=%d&q=%s",
		g.baseURL, limit, url.QueryEscape(query))
	if err := getJSON(ctx, g.client, listURL, g.headers(), &list); err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(list.Messages))
	for _, msg := range list.Messages {
		rec, err := g.fetchMessage(ctx, msg.ID)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (g *Gmail) fetchMessage(ctx context.Context, id string) (domain.Record, error) {
	var msg struct {
		ID      string `json:"id"`
		Snippet string `json:"snippet"`
		Payload struct {
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}
	msgURL := fmt.Sprintf("%s/users/me/messages/%s?format=metadata&metadataHeaders=Subject&metadataHeaders=From&metadataHeaders=Date", g.baseURL, id)
	if err := getJSON(ctx, g.client, msgURL, g.headers(), &msg); err != nil {
		return nil, err
	}

	rec := domain.Record{"id": msg.ID, "snippet": msg.Snippet}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			rec["subject"] = h.Value
		case "From":
			rec["from"] = h.Value
		case "Date":
			if t, err := time.Parse(time.RFC1123Z, h.Value); err == nil {
				rec["date"] = t
			} else {
				rec["date"] = h.Value
			}
		}
	}
	return rec, nil
}

// ExecuteAction sends mail. Supported: send_email, reply_email,
// forward_email.
func (g *Gmail) ExecuteAction(ctx context.Context, actionType string, params map[string]interface{}) (string, error) {
	switch actionType {
	case "send_email", "reply_email", "forward_email":
		raw := buildRFC822(g.address, params)
		payload := map[string]string{
			"raw": base64.URLEncoding.EncodeToString([]byte(raw)),
		}
		if threadID, _ := params["thread_id"].(string); threadID != "" {
			payload["threadId"] = threadID
		}
		var resp struct {
			ID string `json:"id"`
		}
		if err := postJSON(ctx, g.client, g.baseURL+"/users/me/messages/send", g.headers(), payload, &resp); err != nil {
			return "", err
		}
		return "message " + resp.ID, nil
	default:
		return "", fmt.Errorf("gmail cannot execute %q", actionType)
	}
}

func (g *Gmail) HealthCheck(ctx context.Context) bool { return g.ready }

func (g *Gmail) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + g.token}
}

func buildRFC822(from string, params map[string]interface{}) string {
	str := func(key string) string {
		s, _ := params[key].(string)
		return s
	}
	var b strings.Builder
	if from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", str("to"))
	if cc := str("cc"); cc != "" {
		fmt.Fprintf(&b, "Cc: %s\r\n", cc)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", str("subject"))
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(str("body"))
	return b.String()
}
