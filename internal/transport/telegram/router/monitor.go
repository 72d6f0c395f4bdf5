package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"igmonitor/internal/domain"
	"igmonitor/internal/monitor"
	logx "igmonitor/pkg/logx"
	"igmonitor/pkg/tgui"
)

// MonitorPort is the monitoring surface the commands drive (implemented by monitor.Manager).
type MonitorPort interface {
	Add(ctx context.Context, client, accountID string, opts ...monitor.AddOption) (monitor.AddResult, error)
	Remove(ctx context.Context, client, accountID string) (bool, error)
	RemoveAll(ctx context.Context, client string) (int, error)
	List(ctx context.Context, client string) ([]domain.MonitoredAccount, error)
	Stats(ctx context.Context, client string) (monitor.EngineStats, error)
}

const listPageSize = 50

// MonitorCommands returns /add, /list, /remove, /removeall and /status.
func MonitorCommands(port MonitorPort, sups *SupervisorRegistry) []Command {
	h := monitorHandlers{port: port, sups: sups}
	return []Command{
		{Name: "add", Description: "start monitoring accounts", Usage: "/add @user1 @user2 (or reply to a message)", Access: AccessOwnerOnly, NeedsClient: true, Handle: h.add},
		{Name: "list", Description: "show monitored accounts", Usage: "/list [page]", Access: AccessOwnerOnly, NeedsClient: true, Handle: h.list},
		{Name: "remove", Aliases: []string{"rm"}, Description: "stop monitoring an account", Usage: "/remove @username", Access: AccessOwnerOnly, NeedsClient: true, Handle: h.remove},
		{Name: "removeall", Description: "stop all monitoring", Usage: "/removeall", Access: AccessOwnerOnly, NeedsClient: true, Timeout: time.Minute, Handle: h.removeAll},
		{Name: "status", Description: "credentials and monitor health", Usage: "/status", Access: AccessOwnerOnly, NeedsClient: true, Handle: h.status},
	}
}

type monitorHandlers struct {
	port MonitorPort
	sups *SupervisorRegistry
}

// handlesFrom collects handles from the reply text and the arguments. Bare
// arguments without "@" are accepted when they are valid handles.
func handlesFrom(replyText string, args []string) (ids []string, invalid []string) {
	seen := map[string]struct{}{}
	push := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, id := range domain.ExtractHandles(replyText) {
		push(id)
	}
	for _, a := range args {
		if found := domain.ExtractHandles(a); len(found) > 0 {
			for _, id := range found {
				push(id)
			}
			continue
		}
		if id, err := domain.NormalizeID(a); err == nil {
			push(id)
		} else {
			invalid = append(invalid, a)
		}
	}
	return ids, invalid
}

func (h monitorHandlers) add(ctx context.Context, req *Request) error {
	ids, invalid := handlesFrom(req.ReplyText, req.Args)
	if len(ids) == 0 {
		return req.Reply(ctx, "❌ No usernames found. Use: <code>/add @username</code> or reply to a message")
	}

	var added, already, failed []string
	for _, id := range ids {
		res, err := h.port.Add(ctx, req.Client, id, monitor.WithRequester(req.Chat.ChatID))
		switch {
		case err != nil:
			req.Logger.Warn("add failed", logx.String("account", id), logx.Err(err))
			failed = append(failed, "@"+tgui.Esc(id).String()+": "+tgui.Esc(err.Error()).String())
		case res.Added:
			added = append(added, "@"+res.ID)
		default:
			already = append(already, "@"+res.ID)
		}
	}
	for _, s := range invalid {
		failed = append(failed, tgui.Esc(s).String()+": not a valid username")
	}

	var b strings.Builder
	section(&b, "✅ <b>Monitoring started:</b>", added)
	section(&b, "⚠️ <b>Already monitoring:</b>", already)
	section(&b, "❌ <b>Failed:</b>", failed)
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func section(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(title + "\n")
	for _, it := range items {
		b.WriteString("└ " + it + "\n")
	}
}

func (h monitorHandlers) list(ctx context.Context, req *Request) error {
	recs, err := h.port.List(ctx, req.Client)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return req.Reply(ctx, "📋 No accounts being monitored")
	}
	page := 0
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil {
			page = n - 1
		}
	}
	p := tgui.Paginate(recs, page, listPageSize)
	var b strings.Builder
	fmt.Fprintf(&b, "📋 <b>Monitoring %d account(s):</b>\n\n", len(recs))
	for _, r := range p.Items {
		fmt.Fprintf(&b, "└ @%s · %s · %d checks (since %s)\n", r.ID, r.State, r.CheckCount, r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if p.Pages > 1 {
		fmt.Fprintf(&b, "\n<i>%s</i>", tgui.Esc(p.Label()))
		if p.HasNext {
			fmt.Fprintf(&b, " · <code>/list %d</code>", p.Index+2)
		}
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (h monitorHandlers) remove(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "❌ Usage: <code>/remove @username</code>")
	}
	var lines []string
	for _, a := range req.Args {
		id, err := domain.NormalizeID(a)
		if err != nil {
			lines = append(lines, "❌ "+tgui.Esc(a).String()+": not a valid username")
			continue
		}
		ok, err := h.port.Remove(ctx, req.Client, id)
		switch {
		case err != nil:
			req.Logger.Warn("remove failed", logx.String("account", id), logx.Err(err))
			lines = append(lines, "❌ @"+id+": "+tgui.Esc(err.Error()).String())
		case ok:
			lines = append(lines, "✅ Stopped monitoring <b>@"+id+"</b>")
		default:
			lines = append(lines, "❌ Not monitoring <b>@"+id+"</b>")
		}
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (h monitorHandlers) removeAll(ctx context.Context, req *Request) error {
	n, err := h.port.RemoveAll(ctx, req.Client)
	if err != nil {
		return err
	}
	if n == 0 {
		return req.Reply(ctx, "📋 No accounts to remove")
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Stopped monitoring all <b>%d</b> account(s)", n))
}

func (h monitorHandlers) status(ctx context.Context, req *Request) error {
	st, err := h.port.Stats(ctx, req.Client)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Status</b> <code>%s</code>\n\n", tgui.Esc(st.Client).String())
	if st.Paused {
		b.WriteString("⏸ Checks paused\n")
	}
	fmt.Fprintf(&b, "Interval: %s\n", intervalText(st.MinInterval, st.MaxInterval))
	fmt.Fprintf(&b, "Accounts: %d running · %d suspended · %d unknown · %d active\n",
		st.Running, st.ByState[domain.StateSuspended], st.ByState[domain.StateUnknown], st.ByState[domain.StateActive])
	fmt.Fprintf(&b, "Goroutines: %d active · %d started · %d panics\n", st.Goroutines.Active, st.Goroutines.Started, st.Goroutines.Panics)

	b.WriteString("\n<b>Credentials</b>\n")
	for _, c := range st.Credentials {
		used := "never"
		if !c.LastUsed.IsZero() {
			used = time.Since(c.LastUsed).Round(time.Second).String() + " ago"
		}
		mark := "🟢"
		if c.FailureStreak > 0 {
			mark = "🟠"
		}
		fmt.Fprintf(&b, "%s <code>%s</code> streak %d · used %s\n", mark, c.Fingerprint, c.FailureStreak, used)
	}
	if subs := h.sups.Snapshot(); len(subs) > 0 {
		b.WriteString("\n<b>Subsystems</b>\n")
		for _, s := range subs {
			fmt.Fprintf(&b, "• %s: %d active, %d panics\n", tgui.Esc(s.Name).String(), s.Counters.Active, s.Counters.Panics)
		}
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}
