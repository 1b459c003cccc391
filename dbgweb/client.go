package dbgweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bernerdschaefer/eventsource"
	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbgdump"
	"github.com/peterbourgon/debugbar/dbglog"
)

// HTTPClient models a concrete http.Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Client calls the retrieval endpoints of a remote handler.
type Client struct {
	client  HTTPClient
	baseurl string
}

// NewClient returns a client calling the provided URL, which is assumed to be
// the prefix of a handler also defined in this package.
func NewClient(client HTTPClient, baseurl string) *Client {
	if !strings.Contains(baseurl, "://") {
		baseurl = "http://" + baseurl
	}
	return &Client{
		client:  client,
		baseurl: strings.TrimSuffix(baseurl, "/"),
	}
}

// Dump fetches a stored dump. A missing dump yields an error matching
// debugbar.ErrNotFound.
func (c *Client) Dump(ctx context.Context, requestID, dumpID string) (*dbgdump.Node, error) {
	var res DumpResponse
	if err := c.get(ctx, "/dump", url.Values{"request": {requestID}, "dump": {dumpID}}, &res); err != nil {
		return nil, err
	}
	return res.Node, nil
}

// Logs fetches the late log entries of a request.
func (c *Client) Logs(ctx context.Context, requestID string) ([]dbglog.Entry, error) {
	var res LogsResponse
	if err := c.get(ctx, "/logs", url.Values{"request": {requestID}}, &res); err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// Stream late log entries of a request to the channel, until the context is
// canceled. Disconnects are retried at the given interval.
func (c *Client) Stream(ctx context.Context, requestID string, retry time.Duration, ch chan<- dbglog.Entry) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseurl+"/logs/stream?"+url.Values{"request": {requestID}}.Encode(), nil)
	if err != nil {
		return fmt.Errorf("make HTTP request: %w", err)
	}

	es := eventsource.New(req, retry)
	go func() {
		<-ctx.Done()
		es.Close()
	}()

	for {
		ev, err := es.Read()
		if errors.Is(err, eventsource.ErrClosed) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read server-sent event: %w", err)
		}

		switch ev.Type {
		case eventTypeLog:
			var e dbglog.Entry
			if err := json.Unmarshal(ev.Data, &e); err != nil {
				return fmt.Errorf("decode log event: %w", err)
			}
			select {
			case ch <- e:
			case <-ctx.Done():
				return nil
			}

		case eventTypeHeartbeat:
			// ok
		}
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseurl+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("make HTTP request: %w", err)
	}
	req.Header.Set("accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute HTTP request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return debugbar.ErrNotFound
	case http.StatusForbidden:
		return debugbar.ErrUnauthorized
	default:
		return fmt.Errorf("remote status code %d", res.StatusCode)
	}

	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
