package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"igmonitor/internal/runtime/supervisor"
	kit "igmonitor/internal/transport"
	logx "igmonitor/pkg/logx"
	"igmonitor/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
	// AccessAdmin is limited to the global owners and works in any chat.
	AccessAdmin
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// NeedsClient rejects the command in chats not linked to a client.
	NeedsClient bool
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Sender is the slice of the transport adapter commands reply through.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// ChatResolver maps a chat to its client and the users allowed to operate it.
// Admins are the owners of every client.
type ChatResolver interface {
	Resolve(chatID int64) (client string, owners []int64, ok bool)
	Admins() []int64
}

type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64
	// Client is empty in chats not linked to a client.
	Client    string
	Command   string
	Args      []string
	ReplyText string
	// Callback and Payload are set for button presses; Editor is nil when the
	// adapter cannot edit messages.
	Callback *kit.Callback
	Payload  string
	ReqID    string
	Sender   Sender
	Editor   kit.Editor
	Logger   logx.Logger
}

// Reply sends an HTML message to the request chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.ReplyKeyboard(ctx, text, nil)
}

// ReplyKeyboard sends an HTML message with an optional inline keyboard.
func (r *Request) ReplyKeyboard(ctx context.Context, text string, kb *tgui.Inline) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, htmlOptions(kb))
	return err
}

// Edit rewrites the message a button was pressed on, or sends a new one
// outside a button press.
func (r *Request) Edit(ctx context.Context, text string, kb *tgui.Inline) error {
	if r.Callback == nil || r.Editor == nil {
		return r.ReplyKeyboard(ctx, text, kb)
	}
	ref := kit.MessageRef{ChatID: r.Callback.ChatID, ThreadID: r.Callback.ThreadID, MessageID: r.Callback.MessageID}
	return r.Editor.EditText(ctx, ref, text, htmlOptions(kb))
}

func htmlOptions(kb *tgui.Inline) *kit.SendOptions {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if kb != nil {
		opt.ReplyMarkupAdapter = kb.Markup()
	}
	return opt
}

// Router parses bot commands and runs them on a bounded worker pool.
type Router struct {
	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]*Command
	list  []Command

	callbacks map[string]CallbackRoute

	log      logx.Logger
	sender   Sender
	editor   kit.Editor
	resolver ChatResolver
	sups     *SupervisorRegistry

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	jobs chan func()
}

func New(log logx.Logger, sender Sender, resolver ChatResolver, sups *SupervisorRegistry) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	editor, _ := sender.(kit.Editor)
	return &Router{
		editor:   editor,
		cmds:     map[string]*Command{},
		alias:    map[string]*Command{},
		log:      log.With(logx.String("comp", "telegram.router")),
		sender:   sender,
		resolver: resolver,
		sups:     sups,
		jobs:     make(chan func(), 256),
	}
}

// SetCommands installs cmds plus /help and publishes the menu when the sender supports it.
func (r *Router) SetCommands(ctx context.Context, cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "show this help",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText())
		},
	})

	byName := map[string]*Command{}
	alias := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = &c
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" && a != name {
				alias[a] = &c
			}
		}
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	r.mu.Lock()
	r.cmds, r.alias, r.list = byName, alias, list
	r.mu.Unlock()

	if up, ok := r.sender.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(list)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (r *Router) lookup(word string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cmds[word]; ok {
		return *c, true
	}
	if c, ok := r.alias[word]; ok {
		return *c, true
	}
	return Command{}, false
}

func (r *Router) commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.list...)
}

func (r *Router) Supervisor() *supervisor.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *supervisor.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates until ctx ends or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.sups.Set("telegram.router", sup)
	r.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if p := recover(); p != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
		)
	}

	defer func() {
		r.setSupervisor(sup, false)
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.sups.Delete("telegram.router")
		r.setSupervisor(nil, false)
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	if up.Kind == kit.UpdateCallback && up.Callback != nil {
		r.routeCallback(ctx, up)
		return
	}
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	word, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cmd, ok := r.lookup(word)
	if !ok {
		if !msg.IsGroup {
			_, _ = r.sender.SendText(ctx, chat, "unknown command, try /help", nil)
		}
		return
	}

	var (
		client string
		owners []int64
		linked bool
	)
	if r.resolver != nil {
		client, owners, linked = r.resolver.Resolve(msg.ChatID)
	}
	if cmd.NeedsClient && !linked {
		_, _ = r.sender.SendText(ctx, chat, "this chat is not linked to a monitoring client", nil)
		return
	}
	if !r.allowed(cmd.Access, msg.FromID, owners) {
		_, _ = r.sender.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:    up,
		Chat:      chat,
		FromID:    msg.FromID,
		Client:    client,
		Command:   cmd.Name,
		Args:      args,
		ReplyText: msg.ReplyToText,
		ReqID:     rid,
		Sender:    r.sender,
		Editor:    r.editor,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
			logx.String("client", client),
		),
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWReplyError(),
		MWTimeout(cmd.Timeout),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.sender.SendText(ctx, chat, "busy, try again", nil)
	}
}

// parseCommand splits "/cmd@bot a b" into ("cmd", [a b]).
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return "", nil, false
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", nil, false
	}
	return word, parts[1:], true
}

func (r *Router) allowed(a Access, from int64, owners []int64) bool {
	switch a {
	case AccessOwnerOnly:
		return isOwner(from, owners)
	case AccessAdmin:
		return r.resolver != nil && isOwner(from, r.resolver.Admins())
	default:
		return true
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
