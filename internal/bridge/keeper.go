package bridge

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

type KeeperConfig struct {
	// Interval is how often an open session is checked for a lost link.
	Interval time.Duration
	Backoff  Backoff
}

func DefaultKeeperConfig() KeeperConfig {
	return KeeperConfig{
		Interval: 500 * time.Millisecond,
		Backoff: Backoff{
			Initial:    250 * time.Millisecond,
			Max:        5 * time.Second,
			Multiplier: 2,
			Jitter:     true,
		},
	}
}

// Keeper holds a session open on one device for a long-running process,
// reopening it when the device disappears (for example across a reboot into
// update mode) or has not appeared yet.
type Keeper struct {
	session *Session
	path    string
	cfg     KeeperConfig
	rng     *rand.Rand
	log     zerolog.Logger
}

func NewKeeper(s *Session, path string, cfg KeeperConfig) *Keeper {
	d := DefaultKeeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = d.Backoff
	}
	return &Keeper{
		session: s,
		path:    path,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     s.log.With().Str("device", path).Logger(),
	}
}

// Run blocks until ctx is done, then closes the session.
func (k *Keeper) Run(ctx context.Context) error {
	defer func() {
		if err := k.session.Close(); err != nil {
			k.log.Warn().Err(err).Msg("close on shutdown")
		}
	}()

	attempt := 0
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		next := k.cfg.Interval
		if k.session.Lost() {
			k.log.Warn().Msg("reopening after link loss")
			if err := k.session.Close(); err != nil {
				k.log.Warn().Err(err).Msg("close lost link")
			}
		}
		if k.session.State() == StateClosed {
			if err := k.session.Open(k.path); err != nil {
				attempt++
				next = k.cfg.Backoff.Delay(attempt, k.rng)
				k.log.Debug().Int("attempt", attempt).Dur("retry_in", next).Err(err).Msg("device not available")
			} else {
				attempt = 0
			}
		}
		timer.Reset(next)
	}
}
