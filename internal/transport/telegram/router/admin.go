package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"igmonitor/internal/config"
	"igmonitor/internal/domain"
	"igmonitor/internal/monitor"
	kit "igmonitor/internal/transport"
	logx "igmonitor/pkg/logx"
	"igmonitor/pkg/tgui"
)

// AdminPort is the cross-client control surface (implemented by monitor.Manager).
type AdminPort interface {
	Clients() []string
	Stats(ctx context.Context, client string) (monitor.EngineStats, error)
	List(ctx context.Context, client string) ([]domain.MonitoredAccount, error)
	Pause(ctx context.Context, client string) (int, error)
	ResumeClient(ctx context.Context, client string) (int, error)
	Restart(ctx context.Context, client string) (int, error)
}

// SettingsView is what the settings screen shows for one client.
type SettingsView struct {
	MinInterval       time.Duration
	MaxInterval       time.Duration
	ProxyEnabled      bool
	RequestsPerMinute int
	CredentialsFile   string
}

// SettingsPort persists client settings to the config file and applies them.
type SettingsPort interface {
	Settings(client string) (SettingsView, error)
	SetInterval(ctx context.Context, client string, min, max time.Duration) error
	// SetProxy removes the proxy when proxyURL is empty.
	SetProxy(ctx context.Context, client, proxyURL string) error
	// SetSessions replaces the client's sessions and returns their fingerprints.
	SetSessions(ctx context.Context, client string, sessions []string) ([]string, error)
	Reload(ctx context.Context) (changed bool, err error)
}

// LogSource returns the newest log lines containing filter.
type LogSource interface {
	Recent(n int, filter string) []string
}

const (
	adminScope        = "adm"
	adminUIAction     = "ui"
	adminPageSize     = 20
	adminLogLines     = 30
	adminLogMaxLines  = 200
	adminLogTextLimit = 3500
)

// Admin builds the operator commands and the button menu behind /admin.
type Admin struct {
	port     AdminPort
	settings SettingsPort
	logs     LogSource
	store    *tgui.TokenStore
	views    map[string]adminView
}

type adminView func(ctx context.Context, req *Request, st uiState) (string, *tgui.Inline, error)

// uiState travels in callback data; keep it small.
type uiState struct {
	View string `json:"v"`
	Key  string `json:"k,omitempty"`
	Page int    `json:"p,omitempty"`
	Op   string `json:"o,omitempty"`
}

func NewAdmin(port AdminPort, settings SettingsPort, logs LogSource) *Admin {
	a := &Admin{port: port, settings: settings, logs: logs, store: tgui.NewTokenStore()}
	a.views = map[string]adminView{
		"home":     a.viewHome,
		"clients":  a.viewClients,
		"client":   a.viewClient,
		"accounts": a.viewAccounts,
		"logs":     a.viewLogs,
		"settings": a.viewSettings,
		"confirm":  a.viewConfirm,
		"exec":     a.viewExec,
		"reload":   a.viewReload,
		"close":    a.viewClose,
	}
	return a
}

func (a *Admin) Commands() []Command {
	return []Command{
		{Name: "admin", Aliases: []string{"panel"}, Description: "operator menu", Usage: "/admin", Access: AccessAdmin, Handle: a.cmdMenu},
		{Name: "clients", Description: "all clients status", Usage: "/clients", Access: AccessAdmin, Handle: a.cmdClients},
		{Name: "accounts", Description: "accounts of a client", Usage: "/accounts <client> [page]", Access: AccessAdmin, Handle: a.cmdAccounts},
		{Name: "pause", Description: "stop checks of a client", Usage: "/pause <client>", Access: AccessAdmin, Handle: a.cmdControl("pause")},
		{Name: "resume", Description: "start checks of a client", Usage: "/resume <client>", Access: AccessAdmin, Timeout: time.Minute, Handle: a.cmdControl("resume")},
		{Name: "restart", Description: "restart checks of a client", Usage: "/restart <client>", Access: AccessAdmin, Timeout: time.Minute, Handle: a.cmdControl("restart")},
		{Name: "setinterval", Description: "set check interval", Usage: "/setinterval <client> <min> <max> (or MIN-MAX minutes)", Access: AccessAdmin, Handle: a.cmdSetInterval},
		{Name: "setproxy", Description: "set or clear the proxy", Usage: "/setproxy <client> <url|off>", Access: AccessAdmin, Handle: a.cmdSetProxy},
		{Name: "setsessions", Description: "replace session ids", Usage: "/setsessions <client> <id1,id2,...>", Access: AccessAdmin, Handle: a.cmdSetSessions},
		{Name: "logs", Description: "recent log lines", Usage: "/logs [client] [lines]", Access: AccessAdmin, Handle: a.cmdLogs},
		{Name: "reload", Description: "reload config and sessions", Usage: "/reload", Access: AccessAdmin, Handle: a.cmdReload},
	}
}

func (a *Admin) Callbacks() []CallbackRoute {
	return []CallbackRoute{{Scope: adminScope, Action: adminUIAction, Access: AccessAdmin, Timeout: time.Minute, Handle: a.handleUI}}
}

func (a *Admin) btn(text string, st uiState) tele.Btn {
	data, err := tgui.DataWithStore(adminScope, adminUIAction, st, a.store)
	if err != nil {
		data = tgui.Data(adminScope, adminUIAction, "")
	}
	return tgui.Btn(text, data)
}

func (a *Admin) handleUI(ctx context.Context, req *Request, payload string) error {
	var st uiState
	if err := tgui.DecodeData(payload, &st, a.store); err != nil {
		return a.editErr(ctx, req, err)
	}
	view, ok := a.views[st.View]
	if !ok {
		return a.editErr(ctx, req, errors.New("unknown view: "+st.View))
	}
	text, kb, err := view(ctx, req, st)
	if err != nil {
		return a.editErr(ctx, req, err)
	}
	return req.Edit(ctx, text, kb)
}

func (a *Admin) editErr(ctx context.Context, req *Request, err error) error {
	kb := tgui.NewInline().Row(a.btn("🏠 Menu", uiState{View: "home"}))
	return req.Edit(ctx, "⚠️ <b>UI Error</b>\n"+tgui.Esc(err.Error()).String(), kb)
}

func (a *Admin) knownClient(name string) error {
	if !slices.Contains(a.port.Clients(), name) {
		return fmt.Errorf("%w: %s", monitor.ErrUnknownClient, name)
	}
	return nil
}

// clientArg takes the first argument as a client name.
func (a *Admin) clientArg(req *Request) (string, error) {
	if len(req.Args) == 0 {
		return "", errors.New("client name required; see /clients")
	}
	name := strings.TrimSpace(req.Args[0])
	return name, a.knownClient(name)
}

func (a *Admin) cmdMenu(ctx context.Context, req *Request) error {
	text, kb, err := a.viewHome(ctx, req, uiState{})
	if err != nil {
		return err
	}
	return req.ReplyKeyboard(ctx, text, kb)
}

func (a *Admin) cmdClients(ctx context.Context, req *Request) error {
	text, kb, err := a.viewClients(ctx, req, uiState{})
	if err != nil {
		return err
	}
	return req.ReplyKeyboard(ctx, text, kb)
}

func (a *Admin) cmdAccounts(ctx context.Context, req *Request) error {
	name, err := a.clientArg(req)
	if err != nil {
		return err
	}
	page := 0
	if len(req.Args) > 1 {
		if n, err := strconv.Atoi(req.Args[1]); err == nil {
			page = n - 1
		}
	}
	text, kb, err := a.viewAccounts(ctx, req, uiState{View: "accounts", Key: name, Page: page})
	if err != nil {
		return err
	}
	return req.ReplyKeyboard(ctx, text, kb)
}

func (a *Admin) cmdControl(op string) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		name, err := a.clientArg(req)
		if err != nil {
			return err
		}
		line, err := a.control(ctx, req, op, name)
		if err != nil {
			return err
		}
		return req.Reply(ctx, line)
	}
}

func (a *Admin) control(ctx context.Context, req *Request, op, name string) (string, error) {
	var (
		n   int
		err error
	)
	switch op {
	case "pause":
		n, err = a.port.Pause(ctx, name)
	case "resume":
		n, err = a.port.ResumeClient(ctx, name)
	case "restart":
		n, err = a.port.Restart(ctx, name)
	default:
		return "", errors.New("unknown operation: " + op)
	}
	req.Logger.Info("client control", logx.String("op", op), logx.String("target", name), logx.Int("accounts", n), logx.Err(err))
	if err != nil {
		return "", err
	}
	switch op {
	case "pause":
		return fmt.Sprintf("⏸ <b>%s</b> paused, %d check loop(s) stopped", tgui.Esc(name), n), nil
	case "resume":
		return fmt.Sprintf("▶️ <b>%s</b> running, %d account(s) scheduled", tgui.Esc(name), n), nil
	default:
		return fmt.Sprintf("🔄 <b>%s</b> restarted, %d account(s) scheduled", tgui.Esc(name), n), nil
	}
}

func (a *Admin) cmdSetInterval(ctx context.Context, req *Request) error {
	name, err := a.clientArg(req)
	if err != nil {
		return err
	}
	lo, hi, err := parseInterval(req.Args[1:])
	if err != nil {
		return err
	}
	if err := a.settings.SetInterval(ctx, name, lo, hi); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ <b>%s</b> checks every %s to %s", tgui.Esc(name), config.FormatDuration(lo), config.FormatDuration(hi)))
}

// parseInterval accepts "MIN-MAX" or "MIN MAX", each either a Go duration or
// a whole number of minutes.
func parseInterval(args []string) (time.Duration, time.Duration, error) {
	var parts []string
	switch len(args) {
	case 1:
		parts = strings.SplitN(args[0], "-", 2)
	case 2:
		parts = args
	}
	if len(parts) != 2 {
		return 0, 0, errors.New("interval must be MIN-MAX in minutes, e.g. 5-10")
	}
	lo, err := parseMinutes(parts[0])
	if err != nil {
		return 0, 0, err
	}
	hi, err := parseMinutes(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if lo < time.Minute {
		return 0, 0, errors.New("minimum interval is 1 minute")
	}
	if hi < lo {
		return 0, 0, errors.New("max must not be below min")
	}
	return lo, hi, nil
}

func parseMinutes(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return d, nil
}

func (a *Admin) cmdSetProxy(ctx context.Context, req *Request) error {
	name, err := a.clientArg(req)
	if err != nil {
		return err
	}
	if len(req.Args) < 2 {
		return errors.New("usage: /setproxy <client> <url|off>")
	}
	raw := strings.TrimSpace(req.Args[1])
	a.deleteCommand(ctx, req)
	if strings.EqualFold(raw, "off") || strings.EqualFold(raw, "none") {
		if err := a.settings.SetProxy(ctx, name, ""); err != nil {
			return err
		}
		return req.Reply(ctx, fmt.Sprintf("✅ <b>%s</b> proxy removed", tgui.Esc(name)))
	}
	if !validProxyScheme(raw) {
		return errors.New("proxy must start with http://, https:// or socks5://")
	}
	if err := a.settings.SetProxy(ctx, name, raw); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ <b>%s</b> proxy updated", tgui.Esc(name)))
}

func validProxyScheme(raw string) bool {
	lower := strings.ToLower(raw)
	for _, p := range []string{"http://", "https://", "socks5://"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func (a *Admin) cmdSetSessions(ctx context.Context, req *Request) error {
	name, err := a.clientArg(req)
	if err != nil {
		return err
	}
	var sessions []string
	for _, arg := range req.Args[1:] {
		for _, s := range strings.Split(arg, ",") {
			if s = strings.TrimSpace(s); s != "" {
				sessions = append(sessions, s)
			}
		}
	}
	a.deleteCommand(ctx, req)
	if len(sessions) == 0 {
		return errors.New("usage: /setsessions <client> <id1,id2,...>")
	}
	fps, err := a.settings.SetSessions(ctx, name, sessions)
	if err != nil {
		return err
	}
	codes := make([]tgui.H, 0, len(fps))
	for _, fp := range fps {
		codes = append(codes, tgui.Code(fp))
	}
	return req.Reply(ctx, fmt.Sprintf("✅ <b>%s</b> now uses %d session(s): %s", tgui.Esc(name), len(fps), tgui.JoinH(", ", codes...)))
}

// deleteCommand removes a command message that carried secrets.
func (a *Admin) deleteCommand(ctx context.Context, req *Request) {
	m := req.Update.Message
	if m == nil || req.Editor == nil {
		return
	}
	ref := kit.MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.ID}
	if err := req.Editor.DeleteMessage(ctx, ref); err != nil {
		req.Logger.Debug("delete secret-bearing message failed", logx.Err(err))
	}
}

func (a *Admin) cmdLogs(ctx context.Context, req *Request) error {
	st := uiState{View: "logs", Page: adminLogLines}
	for _, arg := range req.Args {
		if n, err := strconv.Atoi(arg); err == nil {
			st.Page = min(max(n, 1), adminLogMaxLines)
			continue
		}
		if err := a.knownClient(arg); err != nil {
			return err
		}
		st.Key = arg
	}
	text, kb, err := a.viewLogs(ctx, req, st)
	if err != nil {
		return err
	}
	return req.ReplyKeyboard(ctx, text, kb)
}

func (a *Admin) cmdReload(ctx context.Context, req *Request) error {
	text, _, err := a.viewReload(ctx, req, uiState{})
	if err != nil {
		return err
	}
	return req.Reply(ctx, text)
}

func (a *Admin) viewHome(context.Context, *Request, uiState) (string, *tgui.Inline, error) {
	kb := tgui.NewInline().
		Row(a.btn("📊 All Clients Status", uiState{View: "clients"})).
		Row(a.btn("👥 Monitored Accounts", uiState{View: "clients", Op: "accounts"}), a.btn("📜 View Logs", uiState{View: "logs"})).
		Row(a.btn("⚙️ Client Settings", uiState{View: "clients", Op: "settings"}), a.btn("🛠 Service Control", uiState{View: "clients", Op: "client"})).
		Row(a.btn("🔁 Reload", uiState{View: "reload"}), a.btn("✖️ Close", uiState{View: "close"}))
	return "🤖 <b>Instagram Monitor</b>\nChoose an option:", kb, nil
}

// viewClients lists every client; Op picks the view a client button opens.
func (a *Admin) viewClients(ctx context.Context, _ *Request, st uiState) (string, *tgui.Inline, error) {
	next := st.Op
	if next == "" {
		next = "client"
	}
	names := a.port.Clients()
	var b strings.Builder
	b.WriteString("📊 <b>All Clients Status</b>\n")
	if len(names) == 0 {
		b.WriteString("\nNo clients configured")
	}
	btns := make([]tele.Btn, 0, len(names))
	for _, name := range names {
		s, err := a.port.Stats(ctx, name)
		if err != nil {
			fmt.Fprintf(&b, "\n🔴 <b>%s</b>: %s", tgui.Esc(name), tgui.Esc(err.Error()))
			continue
		}
		fmt.Fprintf(&b, "\n%s <b>%s</b>: %d account(s) · %s", statusMark(s), tgui.Esc(name), s.Running, intervalText(s.MinInterval, s.MaxInterval))
		btns = append(btns, a.btn(name, uiState{View: next, Key: name}))
	}
	kb := tgui.NewInline().Grid(2, btns...).Row(a.btn("⬅️ Back", uiState{View: "home"}))
	return b.String(), kb, nil
}

func statusMark(s monitor.EngineStats) string {
	if s.Paused {
		return "⏸"
	}
	return "🟢"
}

func intervalText(lo, hi time.Duration) string {
	if lo == hi {
		return "every " + config.FormatDuration(lo)
	}
	return "every " + config.FormatDuration(lo) + "–" + config.FormatDuration(hi)
}

func (a *Admin) viewClient(ctx context.Context, _ *Request, st uiState) (string, *tgui.Inline, error) {
	if err := a.knownClient(st.Key); err != nil {
		return "", nil, err
	}
	s, err := a.port.Stats(ctx, st.Key)
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n\n", statusMark(s), tgui.Esc(st.Key))
	state := "running"
	if s.Paused {
		state = "paused"
	}
	fmt.Fprintf(&b, "State: %s\n", state)
	fmt.Fprintf(&b, "Accounts: %d · %d suspended · %d unknown\n", s.Running, s.ByState[domain.StateSuspended], s.ByState[domain.StateUnknown])
	fmt.Fprintf(&b, "Interval: %s\n", intervalText(s.MinInterval, s.MaxInterval))
	fmt.Fprintf(&b, "Sessions: %d", len(s.Credentials))
	if st.Op != "" {
		b.WriteString("\n\n" + st.Op)
	}

	toggle := a.btn("⏸ Stop", uiState{View: "confirm", Key: st.Key, Op: "pause"})
	if s.Paused {
		toggle = a.btn("▶️ Start", uiState{View: "exec", Key: st.Key, Op: "resume"})
	}
	kb := tgui.NewInline().
		Row(a.btn("👥 Accounts", uiState{View: "accounts", Key: st.Key}), a.btn("📜 Logs", uiState{View: "logs", Key: st.Key})).
		Row(toggle, a.btn("🔄 Restart", uiState{View: "confirm", Key: st.Key, Op: "restart"})).
		Row(a.btn("⚙️ Settings", uiState{View: "settings", Key: st.Key}), a.btn("🔃 Status", uiState{View: "client", Key: st.Key})).
		Row(a.btn("⬅️ Back", uiState{View: "clients"}))
	return b.String(), kb, nil
}

func (a *Admin) viewAccounts(ctx context.Context, _ *Request, st uiState) (string, *tgui.Inline, error) {
	if err := a.knownClient(st.Key); err != nil {
		return "", nil, err
	}
	recs, err := a.port.List(ctx, st.Key)
	if err != nil {
		return "", nil, err
	}
	slices.SortFunc(recs, func(x, y domain.MonitoredAccount) int { return strings.Compare(x.ID, y.ID) })
	p := tgui.Paginate(recs, st.Page, adminPageSize)

	var b strings.Builder
	fmt.Fprintf(&b, "👥 <b>%s</b>: %d account(s)\n", tgui.Esc(st.Key), len(recs))
	for _, r := range p.Items {
		fmt.Fprintf(&b, "\n└ @%s · %s · %d checks", r.ID, r.State, r.CheckCount)
	}
	if p.Pages > 1 {
		fmt.Fprintf(&b, "\n\n<i>%s</i>", tgui.Esc(p.Label()))
	}

	kb := tgui.NewInline()
	var nav []tele.Btn
	if p.HasPrev {
		nav = append(nav, a.btn("◀️", uiState{View: "accounts", Key: st.Key, Page: p.Index - 1}))
	}
	if p.HasNext {
		nav = append(nav, a.btn("▶️", uiState{View: "accounts", Key: st.Key, Page: p.Index + 1}))
	}
	kb.Row(nav...).Row(a.btn("⬅️ Back", uiState{View: "client", Key: st.Key}))
	return b.String(), kb, nil
}

// viewLogs shows the newest lines; Page carries the line count and Key the
// client filter.
func (a *Admin) viewLogs(_ context.Context, _ *Request, st uiState) (string, *tgui.Inline, error) {
	n := st.Page
	if n <= 0 {
		n = adminLogLines
	}
	filter := ""
	back := uiState{View: "home"}
	if st.Key != "" {
		filter = "client=" + st.Key
		back = uiState{View: "client", Key: st.Key}
	}
	var lines []string
	if a.logs != nil {
		lines = a.logs.Recent(n, filter)
	}

	title := "📜 <b>Recent logs</b>"
	if st.Key != "" {
		title += " <code>" + tgui.Esc(st.Key).String() + "</code>"
	}
	kb := tgui.NewInline().Row(
		a.btn("🔃 Refresh", uiState{View: "logs", Key: st.Key, Page: n}),
		a.btn("⬅️ Back", back),
	)
	if len(lines) == 0 {
		return title + "\n\nNo log lines yet", kb, nil
	}
	return title + "\n<pre>" + fitLines(lines, adminLogTextLimit) + "</pre>", kb, nil
}

// fitLines escapes lines and drops the oldest until the text fits limit.
func fitLines(lines []string, limit int) string {
	esc := make([]string, len(lines))
	total := 0
	for i, l := range lines {
		esc[i] = tgui.Esc(tgui.TruncRunes(l, 300)).String()
		total += len(esc[i]) + 1
	}
	for len(esc) > 1 && total > limit {
		total -= len(esc[0]) + 1
		esc = esc[1:]
	}
	return strings.Join(esc, "\n")
}

func (a *Admin) viewSettings(_ context.Context, _ *Request, st uiState) (string, *tgui.Inline, error) {
	if err := a.knownClient(st.Key); err != nil {
		return "", nil, err
	}
	v, err := a.settings.Settings(st.Key)
	if err != nil {
		return "", nil, err
	}
	name := tgui.Esc(st.Key).String()
	proxy := "off"
	if v.ProxyEnabled {
		proxy = "on"
	}
	rpm := "unlimited"
	if v.RequestsPerMinute > 0 {
		rpm = strconv.Itoa(v.RequestsPerMinute) + "/min"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⚙️ <b>%s settings</b>\n\n", name)
	fmt.Fprintf(&b, "Interval: %s\n", intervalText(v.MinInterval, v.MaxInterval))
	fmt.Fprintf(&b, "Proxy: %s\n", proxy)
	fmt.Fprintf(&b, "Rate limit: %s\n", rpm)
	if v.CredentialsFile != "" {
		fmt.Fprintf(&b, "Sessions file: <code>%s</code>\n", tgui.Esc(v.CredentialsFile))
	}
	b.WriteString("\nChange with:\n")
	fmt.Fprintf(&b, "<code>/setinterval %s 5-10</code>\n", name)
	fmt.Fprintf(&b, "<code>/setproxy %s http://host:port</code> or <code>off</code>\n", name)
	fmt.Fprintf(&b, "<code>/setsessions %s id1,id2</code>", name)
	kb := tgui.NewInline().Row(a.btn("⬅️ Back", uiState{View: "client", Key: st.Key}))
	return b.String(), kb, nil
}

func (a *Admin) viewConfirm(_ context.Context, _ *Request, st uiState) (string, *tgui.Inline, error) {
	if err := a.knownClient(st.Key); err != nil {
		return "", nil, err
	}
	var q string
	switch st.Op {
	case "pause":
		q = "Stop all checks of <b>%s</b>? Accounts stay on the list."
	case "restart":
		q = "Restart all checks of <b>%s</b>?"
	default:
		return "", nil, errors.New("unknown operation: " + st.Op)
	}
	kb := tgui.ConfirmInline(
		a.btn("✅ Yes", uiState{View: "exec", Key: st.Key, Op: st.Op}),
		a.btn("❌ Cancel", uiState{View: "client", Key: st.Key}),
	)
	return "⚠️ " + fmt.Sprintf(q, tgui.Esc(st.Key)), kb, nil
}

func (a *Admin) viewExec(ctx context.Context, req *Request, st uiState) (string, *tgui.Inline, error) {
	if err := a.knownClient(st.Key); err != nil {
		return "", nil, err
	}
	line, err := a.control(ctx, req, st.Op, st.Key)
	if err != nil {
		return "", nil, err
	}
	return a.viewClient(ctx, req, uiState{View: "client", Key: st.Key, Op: line})
}

func (a *Admin) viewReload(ctx context.Context, req *Request, _ uiState) (string, *tgui.Inline, error) {
	changed, err := a.settings.Reload(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("reload rejected, previous config kept: %w", err)
	}
	req.Logger.Info("reload requested", logx.Bool("changed", changed))
	text := "🔁 Config unchanged; sessions re-read"
	if changed {
		text = "🔁 Config reloaded"
	}
	kb := tgui.NewInline().Row(a.btn("⬅️ Back", uiState{View: "home"}))
	return text, kb, nil
}

func (a *Admin) viewClose(context.Context, *Request, uiState) (string, *tgui.Inline, error) {
	return "Menu closed", nil, nil
}
