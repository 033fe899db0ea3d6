// Package janitor sweeps stale scratch files left behind by fetches, splits
// and uploads. Job deletion removes its own directory; the janitor catches
// everything that outlived its job.
package janitor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Janitor periodically removes entries under the scratch root older than
// MaxAge.
type Janitor struct {
	Dir    string
	MaxAge time.Duration

	c *cron.Cron
}

// New builds a janitor for dir.
func New(dir string, maxAge time.Duration) *Janitor {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Janitor{Dir: dir, MaxAge: maxAge, c: cron.New()}
}

// Start schedules sweeps at the given interval.
func (j *Janitor) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if _, err := j.c.AddFunc(fmt.Sprintf("@every %s", interval), func() { j.Sweep() }); err != nil {
		return err
	}
	j.c.Start()
	log.Info().Str("dir", j.Dir).Dur("interval", interval).Dur("max_age", j.MaxAge).Msg("janitor started")
	return nil
}

// Stop halts the schedule; a sweep in flight finishes.
func (j *Janitor) Stop() {
	ctx := j.c.Stop()
	<-ctx.Done()
}

// Sweep removes stale entries and returns how many it deleted. Job scratch
// directories go as a whole; the shared uploads directory is swept file by
// file so fresh uploads survive.
func (j *Janitor) Sweep() int {
	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", j.Dir).Msg("janitor sweep failed")
		}
		return 0
	}

	cutoff := time.Now().Add(-j.MaxAge)
	removed := 0
	for _, e := range entries {
		path := filepath.Join(j.Dir, e.Name())
		if e.IsDir() && e.Name() == "uploads" {
			removed += sweepFiles(path, cutoff)
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("janitor removal failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Str("dir", j.Dir).Msg("janitor swept scratch files")
	}
	return removed
}

func sweepFiles(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed
}
