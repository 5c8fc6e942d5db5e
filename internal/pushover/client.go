// Package pushover sends push messages through the Pushover API.
package pushover

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://api.pushover.net/1"

type Client struct {
	http  *resty.Client
	token string
	user  string
}

type apiResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors"`
}

func NewClient(token, user string) *Client {
	return NewClientWithBaseURL(token, user, DefaultBaseURL)
}

func NewClientWithBaseURL(token, user, baseURL string) *Client {
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json")
	return &Client{http: http, token: token, user: user}
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c.token != "" && c.user != ""
}

// Send delivers one message to the given devices, or to every device of the
// user when devices is empty.
func (c *Client) Send(ctx context.Context, title, message string, devices []string) error {
	if !c.Enabled() {
		return fmt.Errorf("pushover credentials not configured")
	}
	form := map[string]string{
		"token":   c.token,
		"user":    c.user,
		"title":   title,
		"message": message,
	}
	if len(devices) > 0 {
		form["device"] = strings.Join(devices, ",")
	}

	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		SetError(&out).
		Post("/messages.json")
	if err != nil {
		return fmt.Errorf("pushover request: %w", err)
	}
	if resp.IsError() || out.Status != 1 {
		return fmt.Errorf("pushover api error: status %s, errors %s", resp.Status(), strings.Join(out.Errors, "; "))
	}
	return nil
}
