package jobs

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/casewire/collab-server-go/internal/config"
)

// SessionSweeper removes expired sessions and reports how many went away.
type SessionSweeper interface {
	DeleteExpired() int
}

// WindowSweeper evicts rate-limit windows idle longer than ttl.
type WindowSweeper interface {
	DeleteStale(ttl time.Duration) int
}

// ConnectionSweeper closes connections with no activity since the cutoff.
type ConnectionSweeper interface {
	CloseStale(olderThan time.Duration) int
}

// CleanupJob periodically sweeps sessions, rate-limit windows and idle
// connections so none of the in-memory stores grow without bound.
type CleanupJob struct {
	sessions SessionSweeper
	windows  WindowSweeper
	conns    ConnectionSweeper
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(sessions SessionSweeper, windows WindowSweeper, conns ConnectionSweeper, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		windows:  windows,
		conns:    conns,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.cleanup()
		case <-j.done:
			return
		}
	}
}

func (j *CleanupJob) cleanup() {
	sessions := j.sessions.DeleteExpired()
	windows := j.windows.DeleteStale(config.RateLimitEntryTTL)
	conns := j.conns.CloseStale(config.ConnectionIdleTimeout)

	if sessions > 0 || windows > 0 || conns > 0 {
		log.Info().
			Int("expiredSessions", sessions).
			Int("staleWindows", windows).
			Int("idleConnections", conns).
			Msg("cleanup pass complete")
	}
}
