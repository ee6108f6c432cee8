// Package discord implements calendar.Calendar on top of Discord guild
// scheduled events.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"spudbot/internal/calendar"
	logx "spudbot/pkg/logx"
)

const (
	DefaultBaseURL = "https://discord.com/api/v10"

	privacyGuildOnly   = 2
	entityTypeExternal = 3

	maxNameLen        = 100
	maxDescriptionLen = 1000
)

type Config struct {
	Token      string
	GuildID    string
	Location   string // shown as the event location; required by Discord for external events
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	if strings.TrimSpace(cfg.GuildID) == "" {
		return nil, errors.New("discord guild id is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if strings.TrimSpace(cfg.Location) == "" {
		cfg.Location = "Spacemesh"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 2),
		log:     log,
	}, nil
}

type entityMetadata struct {
	Location string `json:"location,omitempty"`
}

type scheduledEvent struct {
	ID                 string          `json:"id,omitempty"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	ScheduledStartTime time.Time       `json:"scheduled_start_time"`
	ScheduledEndTime   *time.Time      `json:"scheduled_end_time,omitempty"`
	PrivacyLevel       int             `json:"privacy_level,omitempty"`
	EntityType         int             `json:"entity_type,omitempty"`
	EntityMetadata     *entityMetadata `json:"entity_metadata,omitempty"`
}

func (c *Client) payload(e calendar.Entry) scheduledEvent {
	end := e.End.UTC()
	return scheduledEvent{
		Name:               clip(e.Name, maxNameLen),
		Description:        clip(e.Description, maxDescriptionLen),
		ScheduledStartTime: e.Start.UTC(),
		ScheduledEndTime:   &end,
		PrivacyLevel:       privacyGuildOnly,
		EntityType:         entityTypeExternal,
		EntityMetadata:     &entityMetadata{Location: c.cfg.Location},
	}
}

func (c *Client) eventsPath() string {
	return "/guilds/" + c.cfg.GuildID + "/scheduled-events"
}

func (c *Client) Create(ctx context.Context, e calendar.Entry) (string, error) {
	var out scheduledEvent
	if err := c.do(ctx, http.MethodPost, c.eventsPath(), c.payload(e), &out); err != nil {
		return "", fmt.Errorf("create scheduled event: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("create scheduled event: response has no id")
	}
	c.log.Debug("scheduled event created", logx.String("id", out.ID), logx.String("name", out.Name))
	return out.ID, nil
}

func (c *Client) Update(ctx context.Context, handle string, e calendar.Entry) error {
	if strings.TrimSpace(handle) == "" {
		return calendar.ErrNotFound
	}
	if err := c.do(ctx, http.MethodPatch, c.eventsPath()+"/"+handle, c.payload(e), nil); err != nil {
		return fmt.Errorf("update scheduled event %s: %w", handle, err)
	}
	return nil
}

func (c *Client) List(ctx context.Context) ([]calendar.Listed, error) {
	var events []scheduledEvent
	if err := c.do(ctx, http.MethodGet, c.eventsPath(), nil, &events); err != nil {
		return nil, fmt.Errorf("list scheduled events: %w", err)
	}
	out := make([]calendar.Listed, 0, len(events))
	for _, ev := range events {
		l := calendar.Listed{Handle: ev.ID, Name: ev.Name, Start: ev.ScheduledStartTime.UTC()}
		if ev.ScheduledEndTime != nil {
			l.End = ev.ScheduledEndTime.UTC()
		}
		out = append(out, l)
	}
	return out, nil
}

type apiErrorBody struct {
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.cfg.Token)
	req.Header.Set("User-Agent", "DiscordBot (https://github.com/spudbot, 1.0)")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eb apiErrorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
		apiErr := &calendar.APIError{Status: resp.StatusCode, Code: eb.Code, Message: eb.Message}
		if eb.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(eb.RetryAfter * float64(time.Second))
		} else if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				apiErr.RetryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
