package housekeeping

import (
	"context"
	"errors"
	"fmt"

	"igmonitor/internal/domain"
	kit "igmonitor/internal/transport"
)

// Compactor is implemented by every storage.Store.
type Compactor interface {
	Compact(ctx context.Context) error
}

// CompactJob compacts each client's store.
func CompactJob(spec string, stores map[string]Compactor) Job {
	return Job{
		Name: "store.compact",
		Spec: spec,
		Run: func(ctx context.Context) error {
			var errs []error
			for name, st := range stores {
				if err := st.Compact(ctx); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}

// DigestTarget is one client chat receiving the digest.
type DigestTarget struct {
	Client string
	Chat   kit.ChatTarget
}

type Lister interface {
	List(ctx context.Context, client string) ([]domain.MonitoredAccount, error)
}

type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// DigestJob posts the number of monitored accounts to each client chat.
// Clients with nothing monitored are skipped.
func DigestJob(spec string, targets []DigestTarget, lister Lister, sender TextSender) Job {
	return Job{
		Name: "digest",
		Spec: spec,
		Run: func(ctx context.Context) error {
			var errs []error
			for _, t := range targets {
				recs, err := lister.List(ctx, t.Client)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", t.Client, err))
					continue
				}
				if len(recs) == 0 {
					continue
				}
				if _, err := sender.SendText(ctx, t.Chat, DigestText(recs), &kit.SendOptions{ParseMode: "HTML"}); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", t.Client, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}

func DigestText(recs []domain.MonitoredAccount) string {
	var suspended, unknown int
	for _, r := range recs {
		switch r.State {
		case domain.StateSuspended:
			suspended++
		case domain.StateUnknown:
			unknown++
		}
	}
	return fmt.Sprintf("📊 <b>Monitoring %d account(s)</b>\n├ Suspended: %d\n└ Pending first check: %d", len(recs), suspended, unknown)
}
