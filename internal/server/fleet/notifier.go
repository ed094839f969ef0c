// Package fleet tells the internal fleet-management service about account
// lifecycle events. Delivery is best-effort.
package fleet

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/netx"
)

type Notifier interface {
	UserDeleted(ctx context.Context, userID int64) error
}

// HTTPNotifier posts {"user_id": id} to URL with the internal bearer token.
type HTTPNotifier struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPNotifier(url, token string) *HTTPNotifier {
	return &HTTPNotifier{url: url, token: token, client: &http.Client{Timeout: 10 * time.Second}}
}

func (n *HTTPNotifier) UserDeleted(ctx context.Context, userID int64) error {
	return netx.PostJSON(ctx, n.client, n.url, n.token, map[string]int64{"user_id": userID})
}

// NoopNotifier is used when no fleet URL is configured.
type NoopNotifier struct{}

func (NoopNotifier) UserDeleted(context.Context, int64) error { return nil }
