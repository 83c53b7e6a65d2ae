package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"medauth/cmd/internal/notify"
)

const (
	defaultAlertCooldown = time.Minute
	maxInflightAlerts    = 4
	alertTimeout         = 10 * time.Second
)

// alerter forwards operator alerts off the request path. Each subject is sent
// at most once per cooldown; alerts raised in between are counted and reported
// with the next one. At most maxInflightAlerts deliveries run at a time and
// alerts beyond that are dropped.
type alerter struct {
	notifier notify.Notifier
	log      *slog.Logger
	cooldown time.Duration

	slots chan struct{}
	wg    sync.WaitGroup

	mu         sync.Mutex
	last       map[string]time.Time
	suppressed map[string]int
}

func newAlerter(n notify.Notifier, log *slog.Logger, cooldown time.Duration) *alerter {
	if cooldown <= 0 {
		cooldown = defaultAlertCooldown
	}
	return &alerter{
		notifier:   n,
		log:        log,
		cooldown:   cooldown,
		slots:      make(chan struct{}, maxInflightAlerts),
		last:       make(map[string]time.Time),
		suppressed: make(map[string]int),
	}
}

// send schedules an alert and reports whether a delivery was started.
func (a *alerter) send(ctx context.Context, now time.Time, subject, message string) bool {
	a.mu.Lock()
	if at, ok := a.last[subject]; ok && now.Sub(at) < a.cooldown {
		a.suppressed[subject]++
		a.mu.Unlock()
		a.log.DebugContext(ctx, "auth.alert.suppressed", "subject", subject)
		return false
	}
	select {
	case a.slots <- struct{}{}:
	default:
		a.mu.Unlock()
		a.log.WarnContext(ctx, "auth.alert.drop", "subject", subject, "reason", "inflight_limit")
		return false
	}
	if n := a.suppressed[subject]; n > 0 {
		message = fmt.Sprintf("%s\n\n%d similar alerts were suppressed since the last one.", message, n)
	}
	a.last[subject] = now
	delete(a.suppressed, subject)
	a.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() { <-a.slots }()

		ctx, cancel := context.WithTimeout(ctx, alertTimeout)
		defer cancel()
		if err := a.notifier.AlertAdmin(ctx, subject, message); err != nil {
			a.log.Warn("auth.alert.fail", "subject", subject, "err", err)
		}
	}()
	return true
}

// wait blocks until started deliveries finish.
func (a *alerter) wait() { a.wg.Wait() }
