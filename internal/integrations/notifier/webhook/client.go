package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/StubbleTrack/internal/integrations/notifier"
	"github.com/pkg/errors"
)

// Client POSTs each notification as JSON. X-Event-ID lets the receiver drop
// redeliveries.
type Client struct {
	url   string
	httpc *http.Client
}

func New(url string) *Client {
	return &Client{
		url: url,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Notify(ctx context.Context, n notifier.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", strconv.FormatUint(n.EventID, 10))

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("notification webhook http %d", resp.StatusCode)
	}
	return nil
}
