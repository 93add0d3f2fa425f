// Package agents contains the domain agents: each one groups capability
// connectors for a single subject area (email, calendar, transport, weather,
// flight, trip), turns free text into structured intents, aggregates searches
// across its connectors, and proposes draft actions for user approval.
//
// Agents never persist anything themselves: draft actions are handed to the
// Coordinator, which owns the action store.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

// DefaultAccount is the account name agents resolve through the default
// selection policy.
const DefaultAccount = "default"

// connectorSet is the shared connector bookkeeping embedded by every agent:
// an ordered list (registration order), an account index enforcing the
// exactly-one-owner-per-account invariant, and an explicit default-selection
// policy instead of an implicit "first element" convention.
type connectorSet struct {
	logger         *slog.Logger
	conns          []ports.Connector
	byAccount      map[string]ports.Connector
	defaultAccount string
}

func newConnectorSet(logger *slog.Logger) connectorSet {
	return connectorSet{
		logger:    logger,
		byAccount: make(map[string]ports.Connector),
	}
}

// Register adds a connector. The first registered connector becomes the
// default unless SetDefaultAccount overrides it. Registering a second
// connector for the same account is an error: each account has exactly one
// owner.
func (c *connectorSet) Register(conn ports.Connector) error {
	if _, exists := c.byAccount[conn.Account()]; exists {
		return fmt.Errorf("account %q already has a connector", conn.Account())
	}
	c.conns = append(c.conns, conn)
	c.byAccount[conn.Account()] = conn
	if c.defaultAccount == "" {
		c.defaultAccount = conn.Account()
	}
	return nil
}

// SetDefaultAccount names the account used when a request does not specify
// one. The account must already be registered.
func (c *connectorSet) SetDefaultAccount(account string) error {
	if _, ok := c.byAccount[account]; !ok {
		return fmt.Errorf("cannot default to unregistered account %q", account)
	}
	c.defaultAccount = account
	return nil
}

// Connectors returns the registered connectors in registration order.
func (c *connectorSet) Connectors() []ports.Connector {
	return c.conns
}

// ForAccount resolves which connector owns the account. Empty or "default"
// resolves through the default-selection policy.
func (c *connectorSet) ForAccount(account string) (ports.Connector, error) {
	if account == "" || account == DefaultAccount {
		account = c.defaultAccount
	}
	if conn, ok := c.byAccount[account]; ok {
		return conn, nil
	}
	// Fall back to matching the composite "type:account" name, so users can
	// say "gmail:work" as well as "work".
	for _, conn := range c.conns {
		if conn.Name() == account {
			return conn, nil
		}
	}
	return nil, fmt.Errorf("account %q: %w", account, domain.ErrUnknownAccount)
}

// setup authenticates every connector. A connector that fails to
// authenticate is logged and skipped; the rest still come up.
func (c *connectorSet) setup(ctx context.Context, agent string) error {
	for _, conn := range c.conns {
		if err := conn.Authenticate(ctx); err != nil {
			c.logger.Warn("connector authentication failed",
				"agent", agent, "connector", conn.Name(), "error", err)
		}
	}
	return nil
}

// healthCheck reports readiness per connector name.
func (c *connectorSet) healthCheck(ctx context.Context) map[string]bool {
	results := make(map[string]bool, len(c.conns))
	for _, conn := range c.conns {
		results[conn.Name()] = conn.HealthCheck(ctx)
	}
	return results
}

// fanOutSearch queries every connector accepted by the filter concurrently
// and merges the results. A failing connector contributes nothing: the error
// is logged and the search continues with partial results.
func (c *connectorSet) fanOutSearch(ctx context.Context, agent string, criteria map[string]interface{}, accept func(ports.Connector) bool) []domain.Record {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		merged []domain.Record
	)

	for _, conn := range c.conns {
		if accept != nil && !accept(conn) {
			continue
		}
		wg.Add(1)
		go func(conn ports.Connector) {
			defer wg.Done()
			records, err := conn.Search(ctx, criteria)
			if err != nil {
				c.logger.Warn("connector search failed, continuing with partial results",
					"agent", agent, "connector", conn.Name(), "error", err)
				return
			}
			for i := range records {
				records[i]["account"] = conn.Account()
				records[i]["provider"] = conn.Type()
			}
			mu.Lock()
			merged = append(merged, records...)
			mu.Unlock()
		}(conn)
	}

	wg.Wait()
	return merged
}

// containsAny reports whether s contains any of the needles. Used by the
// keyword-based Understand implementations; first match wins.
func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
