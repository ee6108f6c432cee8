package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	kit "spudbot/internal/transport"
	"spudbot/internal/units"
)

var errOwnerOnly = errors.New("this command is restricted to the bot owners")

func (a *App) registerCommands() {
	a.adapter.Handle(kit.BotCommand{Command: "status", Description: "Bot liveness and last poll"}, a.cmdStatus)
	a.adapter.Handle(kit.BotCommand{Command: "events", Description: "Scheduled calendar events"}, a.cmdEvents)
	a.adapter.Handle(kit.BotCommand{Command: "resync", Description: "Resync calendar records (owners)"}, a.cmdResync)
}

const tsLayout = "2006-01-02 15:04 MST"

func (a *App) cmdStatus(_ context.Context, _ kit.Command) (string, error) {
	var b strings.Builder
	b.WriteString("<b>Status</b>\n")
	if !a.started.IsZero() {
		fmt.Fprintf(&b, "Up since %s (%s)\n", a.started.UTC().Format(tsLayout), humanize.Time(a.started))
	}

	u, at, ok := a.core.Poller().Last()
	if ok {
		fmt.Fprintf(&b, "Last poll: %s, epoch %s, layer %s\n",
			humanize.Time(at), units.Count(u.Stats.Epoch), units.Count(u.Stats.Layer))
		if u.Price.Known {
			fmt.Fprintf(&b, "Price: %s %s\n", units.USD(u.Price.Price), u.Price.Trend.Arrow())
		}
	} else {
		b.WriteString("Last poll: none yet\n")
	}
	if err := a.core.Poller().LastErr(); err != nil {
		fmt.Fprintf(&b, "Last error: <code>%s</code>\n", html.EscapeString(err.Error()))
	}
	if e, ok := a.core.Reconciler().LastEpoch(); ok {
		fmt.Fprintf(&b, "Calendar synced for epoch %s\n", units.Count(e))
	}
	for _, s := range a.sched.Snapshot().Schedules {
		if s.Name == jobPoll && !s.Next.IsZero() {
			fmt.Fprintf(&b, "Next poll: %s\n", humanize.Time(s.Next))
		}
	}
	fmt.Fprintf(&b, "Storage: %s", a.core.Store().Driver())
	return b.String(), nil
}

func (a *App) cmdEvents(ctx context.Context, _ kit.Command) (string, error) {
	v, err := a.core.View(ctx)
	if err != nil {
		return "", fmt.Errorf("read records: %w", err)
	}
	var b strings.Builder
	if v.Known {
		fmt.Fprintf(&b, "<b>Epoch %d</b>\n", v.Epoch)
		for _, w := range v.Windows {
			fmt.Fprintf(&b, "%s #%d: %s → %s\n", w.Kind, w.Seq,
				w.Start.UTC().Format(tsLayout), w.End.UTC().Format(tsLayout))
		}
	} else {
		b.WriteString("<b>No epoch observed yet</b>\n")
	}
	b.WriteString("\n<b>Records</b>\n")
	if len(v.Records) == 0 {
		b.WriteString("none")
	}
	for i, r := range v.Records {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s #%d <code>%s</code> (%s)", html.EscapeString(r.Kind), r.Seq,
			html.EscapeString(r.Handle), humanize.Time(r.UpdatedAt))
	}
	return b.String(), nil
}

func (a *App) cmdResync(ctx context.Context, cmd kit.Command) (string, error) {
	if !a.isOwner(cmd.FromID) {
		return "", errOwnerOnly
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	rr, rep, err := a.core.Resync(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Resync: %d external, %d local, %d purged\n", rr.External, rr.Local, len(rr.Purged))
	if rep != nil {
		fmt.Fprintf(&b, "Pass <code>%s</code> for epoch %d: %d changed", rep.Pass, rep.Epoch, rep.Changed())
		if perr := rep.Err(); perr != nil {
			fmt.Fprintf(&b, "\n⚠️ %s", html.EscapeString(perr.Error()))
		}
	}
	return b.String(), nil
}
