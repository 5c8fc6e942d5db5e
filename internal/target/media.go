package target

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/playback"
)

type MediaOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Media talks to a media controller's REST API.
type Media struct {
	http *resty.Client
	log  logx.Logger
}

type playerState struct {
	State string `json:"state"`
}

func NewMedia(opts MediaOptions, log logx.Logger) *Media {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}
	return &Media{http: client, log: log.With(logx.String("component", "target.media"))}
}

var mediaBusy = map[string]bool{
	"playing":   true,
	"buffering": true,
}

// IsIdle reports true when the state cannot be read.
func (m *Media) IsIdle(ctx context.Context, ep playback.Endpoint) bool {
	var st playerState
	resp, err := m.http.R().
		SetContext(ctx).
		SetPathParam("id", ep.Ref).
		SetResult(&st).
		Get("/players/{id}")
	if err != nil {
		m.log.Debug("player state unavailable", logx.String("player", ep.Ref), logx.Err(err))
		return true
	}
	if resp.IsError() {
		m.log.Debug("player state unavailable", logx.String("player", ep.Ref), logx.Int("status", resp.StatusCode()))
		return true
	}
	return !mediaBusy[strings.ToLower(st.State)]
}

func (m *Media) Announce(ctx context.Context, ep playback.Endpoint, text string) error {
	return m.post(ctx, ep, "/players/{id}/announce", map[string]string{"message": text})
}

func (m *Media) PlaySound(ctx context.Context, ep playback.Endpoint, sound string) error {
	return m.post(ctx, ep, "/players/{id}/play", map[string]string{
		"media_content_id":   sound,
		"media_content_type": "music",
	})
}

func (m *Media) post(ctx context.Context, ep playback.Endpoint, path string, body any) error {
	resp, err := m.http.R().
		SetContext(ctx).
		SetPathParam("id", ep.Ref).
		SetBody(body).
		Post(path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", playback.ErrAdapter, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s returned %s", playback.ErrAdapter, resp.Request.URL, resp.Status())
	}
	return nil
}
