package adapter

import (
	"bytes"
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"igmonitor/internal/runtime/supervisor"
	kit "igmonitor/internal/transport"
	logx "igmonitor/pkg/logx"
	"igmonitor/pkg/tgui"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe call at construction (tests).
	Offline bool
}

// Adapter is the telebot-backed implementation of kit.Adapter.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	// updates dropped because the router was slower than the poll loop;
	// reported periodically instead of per update.
	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

var (
	_ kit.Adapter = (*Adapter)(nil)
	_ kit.Editor  = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram.adapter")), bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := toUpdate(c.Message()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		if up, ok := toCallback(c.Callback()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
	return a, nil
}

// toCallback converts a button press; presses on inline-mode messages carry no
// chat and are ignored.
func toCallback(cb *tele.Callback) (kit.Update, bool) {
	if cb == nil || cb.Sender == nil || cb.Message == nil || cb.Message.Chat == nil {
		return kit.Update{}, false
	}
	m := cb.Message
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID:        cb.ID,
		FromID:    cb.Sender.ID,
		ChatID:    m.Chat.ID,
		ThreadID:  m.ThreadID,
		MessageID: m.ID,
		Data:      cb.Data,
	}}, true
}

// toUpdate converts a telebot message; messages without a sender are ignored.
func toUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil || m.Sender == nil {
		return kit.Update{}, false
	}
	msg := &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
		IsGroup:      m.Chat.Type != tele.ChatPrivate,
	}
	if r := m.ReplyTo; r != nil {
		msg.ReplyToText = r.Text
		if msg.ReplyToText == "" {
			msg.ReplyToText = r.Caption
		}
	}
	return kit.Update{Kind: kit.UpdateMessage, Message: msg}, true
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Supervisor() *supervisor.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; restart it if it returns while we are still running.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithPublishFirstError(true),
		supervisor.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop never blocks shutdown longer than a short grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.droppedUpdates.Load()))
	sup.Cancel()
	go a.bot.Stop()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
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

const (
	textLimit    = 4000
	captionLimit = 1024
)

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	if withMarkup {
		so.ReplyMarkup = replyMarkup(opt)
	}
	return so
}

func replyMarkup(opt *kit.SendOptions) *tele.ReplyMarkup {
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok && rm != nil {
		return rm
	}
	return inlineMarkup(opt.Buttons)
}

// inlineMarkup puts all URL buttons in one row.
func inlineMarkup(btns []kit.URLButton) *tele.ReplyMarkup {
	if len(btns) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	row := make([]tele.Btn, 0, len(btns))
	for _, b := range btns {
		row = append(row, rm.URL(b.Text, b.URL))
	}
	rm.Inline(rm.Row(row...))
	return rm
}

// SendText splits long texts; buttons go on the first chunk.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOptions(to, opt, i == 0))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendPhoto uploads an in-memory image. Captions beyond Telegram's limit are truncated.
func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, photo kit.Photo, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if len(photo.Data) == 0 {
		return kit.MessageRef{}, errors.New("empty photo")
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	p := &tele.Photo{
		File:    tele.FromReader(bytes.NewReader(photo.Data)),
		Caption: tgui.TruncRunes(photo.Caption, captionLimit),
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, p, sendOptions(to, opt, true))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// EditText rewrites a sent message. Texts past the limit are truncated since an
// edit cannot be split; "message is not modified" is not an error.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if chunks := splitText(text, textLimit, opt.ParseMode); len(chunks) > 1 {
		text = chunks[0] + "\n…"
	}
	msg := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ReplyMarkup:           replyMarkup(opt),
	}
	if _, err := a.bot.Edit(msg, text, so); err != nil && !strings.Contains(err.Error(), "message is not modified") {
		return err
	}
	return nil
}

// AnswerCallback stops the client spinner; a non-empty text shows a toast.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Delete(tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID})
}

// UpdateMenuCommands publishes the command menu; unchanged lists are not re-sent.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		list = append(list, tele.Command{Text: c.Command, Description: tgui.TruncRunes(d, 256)})
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

// splitText splits s into chunks of at most limit runes, preferring newline
// boundaries and, in HTML mode, never cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, len(rs)/limit+1)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
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
