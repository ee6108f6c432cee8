// Package present projects the latest network stats onto chat surfaces: one
// chat title per figure, a pinned summary panel and a status title.
package present

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"spudbot/internal/storage"
	"spudbot/internal/transport"
	"spudbot/internal/units"
	logx "spudbot/pkg/logx"
)

const (
	stateTitlePrefix = "present.title."
	statePanelRef    = "present.panel"
)

// Config selects where things are shown. A zero chat id disables a surface.
type Config struct {
	Titles map[Stat]int64

	Panel       transport.ChatTarget
	PinPanel    bool
	ChartWindow time.Duration // default 12h
	TrendWindow time.Duration // default 24h
	ChartWidth  int           // default 24
	ChartHeight int           // default 8

	StatusChatID int64
	StatusName   string // default "🥔 Spudbot 9000 🥔"
}

func (c Config) withDefaults() Config {
	if c.ChartWindow <= 0 {
		c.ChartWindow = 12 * time.Hour
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = 24 * time.Hour
	}
	if c.ChartWidth <= 0 {
		c.ChartWidth = 24
	}
	if c.ChartHeight <= 0 {
		c.ChartHeight = 8
	}
	if strings.TrimSpace(c.StatusName) == "" {
		c.StatusName = "🥔 Spudbot 9000 🥔"
	}
	return c
}

// Store is the persistence the presenter needs.
type Store interface {
	storage.StateStore
	storage.SeriesStore
}

// Presenter is safe for concurrent use; updates are serialized.
type Presenter struct {
	disp  transport.Display
	store Store
	log   logx.Logger
	now   func() time.Time

	mu  sync.Mutex
	cfg Config
}

func New(disp transport.Display, store Store, cfg Config, log logx.Logger) *Presenter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Presenter{
		disp:  disp,
		store: store,
		cfg:   cfg.withDefaults(),
		log:   log.With(logx.String("comp", "present")),
		now:   time.Now,
	}
}

// SetConfig swaps the surfaces on config reload. Cached titles stay valid
// because they are keyed by stat, not by chat.
func (p *Presenter) SetConfig(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg.withDefaults()
	p.mu.Unlock()
}

func (p *Presenter) config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Update applies changed titles and refreshes the panel. Failures on one
// surface do not prevent the others.
func (p *Presenter) Update(ctx context.Context, s units.Stats, pv units.PriceView) error {
	_, terr := p.ApplyTitles(ctx, s, pv)
	perr := p.RefreshPanel(ctx, s, pv)
	return errors.Join(terr, perr)
}

// ApplyTitles renames every configured stat chat whose title differs from the
// last applied one. It returns the number of renames.
func (p *Presenter) ApplyTitles(ctx context.Context, s units.Stats, pv units.PriceView) (int, error) {
	cfg := p.config()
	var (
		errs    []error
		changed int
	)
	for _, stat := range Stats() {
		chatID := cfg.Titles[stat]
		if chatID == 0 {
			continue
		}
		title := Title(stat, s, pv)
		ok, err := p.applyTitle(ctx, stateTitlePrefix+string(stat), chatID, title)
		if err != nil {
			errs = append(errs, fmt.Errorf("title %s: %w", stat, err))
			p.log.Warn("title update failed", logx.String("stat", string(stat)), logx.Int64("chat_id", chatID), logx.Err(err))
			continue
		}
		if ok {
			changed++
		}
	}
	if changed > 0 {
		p.log.Debug("titles updated", logx.Int("changed", changed))
	}
	return changed, errors.Join(errs...)
}

func (p *Presenter) applyTitle(ctx context.Context, key string, chatID int64, title string) (bool, error) {
	cacheKey := key + "." + strconv.FormatInt(chatID, 10)
	if cur, ok, err := p.store.GetState(ctx, cacheKey); err == nil && ok && cur == title {
		return false, nil
	}
	if err := p.disp.SetTitle(ctx, chatID, title); err != nil && !errors.Is(err, transport.ErrNotModified) {
		return false, err
	}
	if err := p.store.PutState(ctx, cacheKey, title); err != nil {
		p.log.Warn("title cache write failed", logx.String("key", cacheKey), logx.Err(err))
	}
	return true, nil
}

// RefreshPanel renders the summary and edits the existing message, posting
// and pinning a new one when there is none.
func (p *Presenter) RefreshPanel(ctx context.Context, s units.Stats, pv units.PriceView) error {
	cfg := p.config()
	if cfg.Panel.ChatID == 0 {
		return nil
	}
	text, err := p.Panel(ctx, s, pv)
	if err != nil {
		return err
	}
	return p.publish(ctx, cfg, text)
}

// Panel renders the summary text from s and the stored price series.
func (p *Presenter) Panel(ctx context.Context, s units.Stats, pv units.PriceView) (string, error) {
	cfg := p.config()
	now := p.now()
	longest := cfg.ChartWindow
	if cfg.TrendWindow > longest {
		longest = cfg.TrendWindow
	}
	pts, err := p.store.RangePoints(ctx, MetricPrice, now.Add(-longest))
	if err != nil {
		return "", fmt.Errorf("read price series: %w", err)
	}
	return RenderPanel(PanelData{
		Stats:      s,
		Price:      pv,
		Chart:      since(pts, now.Add(-cfg.ChartWindow)),
		Trend:      since(pts, now.Add(-cfg.TrendWindow)),
		ChartHours: hours(cfg.ChartWindow),
		TrendHours: hours(cfg.TrendWindow),
		Width:      cfg.ChartWidth,
		Height:     cfg.ChartHeight,
	}), nil
}

func since(pts []storage.Point, t time.Time) []storage.Point {
	for i, pt := range pts {
		if !pt.At.Before(t) {
			return pts[i:]
		}
	}
	return nil
}

var panelOpts = &transport.SendOptions{ParseMode: "HTML", DisablePreview: true, Silent: true}

func (p *Presenter) publish(ctx context.Context, cfg Config, text string) error {
	ref, err := p.panelRef(ctx)
	if err != nil {
		p.log.Warn("panel reference unreadable; posting new panel", logx.Err(err))
	}
	if !ref.IsZero() && ref.ChatID == cfg.Panel.ChatID {
		err := p.disp.EditText(ctx, ref, text, panelOpts)
		switch {
		case err == nil, errors.Is(err, transport.ErrNotModified):
			return nil
		case errors.Is(err, transport.ErrMessageNotFound):
			p.log.Info("panel message gone; posting a new one", logx.Int("message_id", ref.MessageID))
		default:
			return fmt.Errorf("edit panel: %w", err)
		}
	}

	ref, err = p.disp.SendText(ctx, cfg.Panel, text, panelOpts)
	if err != nil {
		return fmt.Errorf("send panel: %w", err)
	}
	if err := p.store.PutState(ctx, statePanelRef, encodeRef(ref)); err != nil {
		p.log.Warn("panel reference not stored", logx.Err(err))
	}
	if cfg.PinPanel {
		if err := p.disp.Pin(ctx, ref); err != nil {
			p.log.Warn("pin panel failed", logx.Int("message_id", ref.MessageID), logx.Err(err))
		}
	}
	p.log.Info("panel posted", logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID))
	return nil
}

func (p *Presenter) panelRef(ctx context.Context) (transport.MessageRef, error) {
	v, ok, err := p.store.GetState(ctx, statePanelRef)
	if err != nil || !ok {
		return transport.MessageRef{}, err
	}
	return decodeRef(v)
}

// SetStatus renames the status chat to show whether the bot is running.
func (p *Presenter) SetStatus(ctx context.Context, online bool) error {
	cfg := p.config()
	if cfg.StatusChatID == 0 {
		return nil
	}
	title := StatusTitle(cfg.StatusName, online)
	if _, err := p.applyTitle(ctx, "present.status", cfg.StatusChatID, title); err != nil {
		return fmt.Errorf("status title: %w", err)
	}
	return nil
}

func encodeRef(r transport.MessageRef) string {
	return fmt.Sprintf("%d:%d:%d", r.ChatID, r.ThreadID, r.MessageID)
}

func decodeRef(s string) (transport.MessageRef, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return transport.MessageRef{}, fmt.Errorf("bad message ref %q", s)
	}
	chat, err1 := strconv.ParseInt(parts[0], 10, 64)
	thread, err2 := strconv.Atoi(parts[1])
	msg, err3 := strconv.Atoi(parts[2])
	if err := errors.Join(err1, err2, err3); err != nil {
		return transport.MessageRef{}, fmt.Errorf("bad message ref %q: %w", s, err)
	}
	return transport.MessageRef{ChatID: chat, ThreadID: thread, MessageID: msg}, nil
}
