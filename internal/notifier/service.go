package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"

	"igmonitor/internal/eventbus"
	"igmonitor/internal/monitor"
	"igmonitor/internal/render"
	kit "igmonitor/internal/transport"
	logx "igmonitor/pkg/logx"
)

var ErrNoSender = errors.New("notifier has no sender")

const historySize = 300

// Service implements monitor.Notifier for one client. Safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	policy  retrypolicy.RetryPolicy[any]

	sender Sender
	images ImageFetcher
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

var _ monitor.Notifier = (*Service)(nil)

func New(cfg Config, sender Sender, images ImageFetcher, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		sender: sender,
		images: images,
		bus:    bus,
		log:    log.With(logx.String("comp", "notifier"), logx.String("client", cfg.Client)),
		now:    time.Now,
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the configuration; in-flight deliveries keep their snapshot.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	log := s.log
	s.policy = retrypolicy.NewBuilder[any]().
		WithMaxRetries(cfg.Retries).
		WithBackoff(cfg.RetryBase, cfg.RetryMaxDelay).
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}).
		OnRetry(func(ev failsafe.ExecutionEvent[any]) {
			log.Warn("notification retry", logx.Int("attempt", ev.Attempts()), logx.Err(ev.LastError()))
		}).
		Build()
}

// NotifyRecovery delivers one recovery. The returned error is the last delivery error.
func (s *Service) NotifyRecovery(ctx context.Context, r monitor.Recovery) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	policy := s.policy
	s.mu.Unlock()

	if s.sender == nil {
		return ErrNoSender
	}
	id := r.Account.ID
	log := s.log.With(logx.String("account", id))

	to := kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	if r.Account.AddedBy != 0 && r.Account.AddedBy != cfg.ChatID {
		to = kit.ChatTarget{ChatID: r.Account.AddedBy}
	}
	caption := Caption(r)
	opts := &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		Buttons:        []kit.URLButton{{Text: "View Profile", URL: ProfileURL(id)}},
	}

	var card []byte
	if cfg.Screenshots && r.Profile != nil {
		card = s.renderCard(ctx, cfg, r, log)
	}

	sentPhoto := false
	err := failsafe.With[any](policy).WithContext(ctx).Run(func() error {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		if card != nil {
			cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
			_, err := s.sender.SendPhoto(cctx, to, kit.Photo{Name: id + "_profile.png", Data: card, Caption: caption}, opts)
			cancel()
			if err == nil {
				sentPhoto = true
				return nil
			}
			log.Warn("photo send failed, falling back to text", logx.Err(err))
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
		_, err := s.sender.SendText(cctx, to, caption, opts)
		return err
	})

	now := s.now()
	ev := NotificationEvent{Client: cfg.Client, Account: id, ChatID: to.ChatID, Photo: sentPhoto, At: now}
	if err != nil {
		ev.Error = err.Error()
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifyFailed, Time: now, Data: ev})
		log.Error("recovery notification failed", logx.Err(err))
		return fmt.Errorf("notify %s: %w", id, err)
	}
	s.appendHistory(id, caption)
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifySent, Time: now, Data: ev})
	log.Info("recovery notification sent", logx.Bool("photo", sentPhoto))
	return nil
}

// renderCard returns nil when the card cannot be produced; the caller sends text.
func (s *Service) renderCard(ctx context.Context, cfg Config, r monitor.Recovery, log logx.Logger) []byte {
	p := r.Profile
	var avatar []byte
	if p.ProfilePicURL != "" && s.images != nil {
		cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		b, err := s.images.DownloadImage(cctx, p.ProfilePicURL)
		cancel()
		if err != nil {
			log.Warn("profile picture download failed", logx.Err(err))
			return nil
		}
		avatar = b
	}
	username := p.Username
	if username == "" {
		username = r.Account.ID
	}
	card, err := render.Render(render.Card{
		Username:  username,
		Verified:  p.IsVerified,
		Followers: p.Followers,
		Following: p.Following,
		Posts:     p.Posts,
		Avatar:    avatar,
	})
	if err != nil {
		log.Warn("card render failed", logx.Err(err))
		return nil
	}
	return card
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(account, text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: s.now(), Account: account, Text: text})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}
