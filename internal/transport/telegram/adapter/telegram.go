package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "spudbot/internal/runtime/supervisor"
	kit "spudbot/internal/transport"
	logx "spudbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe call in NewBot; used by tests.
	Offline bool
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	cmdMu    sync.Mutex
	cmds     []kit.BotCommand
	menuHash uint64

	handled atomic.Uint64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram.adapter"))
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

// Handle registers fn for /<cmd.Command>. Register before Start so the menu
// published on start includes the command.
func (a *Adapter) Handle(cmd kit.BotCommand, fn kit.CommandFunc) {
	name := strings.TrimPrefix(strings.TrimSpace(cmd.Command), "/")
	if name == "" || fn == nil {
		return
	}
	a.cmdMu.Lock()
	a.cmds = append(a.cmds, kit.BotCommand{Command: name, Description: cmd.Description})
	a.cmdMu.Unlock()

	a.bot.Handle("/"+name, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		a.handled.Add(1)
		in := kit.Command{
			Name:     name,
			Args:     c.Args(),
			ChatID:   m.Chat.ID,
			ThreadID: m.ThreadID,
		}
		if s := c.Sender(); s != nil {
			in.FromID = s.ID
			in.FromUsername = s.Username
		}

		ctx, cancel := context.WithTimeout(a.runContext(), 30*time.Second)
		defer cancel()
		reply, err := fn(ctx, in)
		if err != nil {
			a.log.Warn("command failed", logx.String("command", name), logx.Int64("chat_id", in.ChatID), logx.Err(err))
			reply = "⚠️ " + err.Error()
		}
		if strings.TrimSpace(reply) == "" {
			return nil
		}
		_, err = a.SendText(ctx, kit.ChatTarget{ChatID: in.ChatID, ThreadID: in.ThreadID}, reply, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return err
	})
}

func (a *Adapter) runContext() context.Context {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.sup != nil {
		return a.sup.Context()
	}
	return context.Background()
}

func (a *Adapter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	if err := a.updateMenu(); err != nil {
		a.log.Warn("menu commands not updated", logx.Err(err))
	}

	// Ensure we stop telebot when the adapter context is cancelled.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped", logx.Uint64("commands_handled", a.handled.Load()))
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}
	a.log.Info("stopping")
	if sup != nil {
		sup.Cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	if sup == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and (best-effort) avoids splitting inside HTML tags when ParseMode is HTML.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func sendOptions(opt *kit.SendOptions, threadID int) *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
		ThreadID:              threadID,
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOptions(opt, to.ThreadID))
		if err != nil {
			return first, mapError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces the text of ref. Text beyond one message is truncated
// to the first chunk; the summary panel always fits.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := a.bot.Edit(m, chunks[0], sendOptions(opt, 0))
	return mapError(err)
}

func (a *Adapter) SetTitle(ctx context.Context, chatID int64, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(a.bot.SetGroupTitle(&tele.Chat{ID: chatID}, title))
}

func (a *Adapter) Pin(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	return mapError(a.bot.Pin(m, tele.Silent))
}

// updateMenu publishes the registered commands (setMyCommands). It only
// performs a network call when the list changed.
func (a *Adapter) updateMenu() error {
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()
	if len(a.cmds) == 0 || a.cfg.Offline {
		return nil
	}
	h := fnv.New64a()
	cmds := make([]tele.Command, 0, len(a.cmds))
	for _, c := range a.cmds {
		d := c.Description
		if d == "" {
			d = c.Command
		}
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
		cmds = append(cmds, tele.Command{Text: c.Command, Description: d})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(cmds); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(cmds)))
	return nil
}

// mapError translates Bot API failures into transport errors. The original
// error stays in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	code := 0
	desc := err.Error()
	var te *tele.Error
	if errors.As(err, &te) {
		code = te.Code
		if te.Description != "" {
			desc = te.Description
		}
	}
	d := strings.ToLower(desc)
	switch {
	case strings.Contains(d, "message is not modified"),
		strings.Contains(d, "chat_not_modified"):
		return errors.Join(kit.ErrNotModified, err)
	case strings.Contains(d, "message to edit not found"),
		strings.Contains(d, "message to pin not found"),
		strings.Contains(d, "message_id_invalid"):
		return errors.Join(kit.ErrMessageNotFound, err)
	case code == 403, strings.Contains(d, "forbidden"),
		strings.Contains(d, "not enough rights"):
		return errors.Join(kit.ErrForbidden, err)
	}
	return err
}
