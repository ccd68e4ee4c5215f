// Package backup snapshots the sqlite database on a cron schedule.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"ratewatch/internal/store"
	"ratewatch/internal/utils"
)

// keepBackups bounds how many timestamped snapshots stay on disk.
const keepBackups = 14

type Service struct {
	store  *store.Store
	dir    string
	cron   *cron.Cron
	logger zerolog.Logger
}

// New schedules backups into dir per the cron spec (Tehran time).
func New(st *store.Store, dir, spec string, logger zerolog.Logger) (*Service, error) {
	s := &Service{
		store:  st,
		dir:    dir,
		cron:   cron.New(cron.WithLocation(utils.TehranLoc())),
		logger: logger.With().Str("component", "backup").Logger(),
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Service) Start() { s.cron.Start() }

func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		s.logger.Error().Err(err).Msg("create backup dir")
		return
	}
	name := fmt.Sprintf("bot-%s.db", time.Now().In(utils.TehranLoc()).Format("20060102-150405"))
	dst := filepath.Join(s.dir, name)
	if err := s.store.BackupTo(ctx, dst); err != nil {
		s.logger.Error().Err(err).Str("path", dst).Msg("backup failed")
		return
	}
	s.logger.Info().Str("path", dst).Msg("backup written")
	s.prune()
}

func (s *Service) prune() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "bot-") && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keepBackups {
		return
	}
	sort.Strings(names) // timestamped names sort chronologically
	for _, n := range names[:len(names)-keepBackups] {
		if err := os.Remove(filepath.Join(s.dir, n)); err == nil {
			s.logger.Debug().Str("file", n).Msg("pruned old backup")
		}
	}
}
