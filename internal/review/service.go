package review

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/cache"
)

// GameSource fetches a player's recent games from an upstream provider.
type GameSource interface {
	FetchGames(ctx context.Context, username string, maxGames int) ([]Game, error)
}

// ServiceConfig configures the analysis service.
type ServiceConfig struct {
	MaxGames int // games fetched per analysis
	Logger   zerolog.Logger
}

// Service runs full-account analyses: fetch recent games, evaluate every
// position, assemble the report, and cache the result per user and hour.
type Service struct {
	source  GameSource
	agg     *Aggregator
	reports *cache.Layer
	cfg     ServiceConfig
	now     func() time.Time
}

// NewService creates a Service. The cache layer holds finished reports; a nil
// layer disables report caching entirely.
func NewService(source GameSource, agg *Aggregator, reports *cache.Layer, cfg ServiceConfig) *Service {
	if cfg.MaxGames == 0 {
		cfg.MaxGames = 5
	}
	return &Service{
		source:  source,
		agg:     agg,
		reports: reports,
		cfg:     cfg,
		now:     time.Now,
	}
}

// CachedReport returns the stored report for username's current hour bucket,
// if one exists. Cache problems read as a miss.
func (s *Service) CachedReport(ctx context.Context, username string) (*AnalysisReport, bool) {
	if s.reports == nil {
		return nil, false
	}
	raw, ok := s.reports.GetReport(cache.ReportKey(username, s.now()))
	if !ok {
		return nil, false
	}
	var rep AnalysisReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		s.cfg.Logger.Warn().Err(err).Str("username", username).Msg("discarding undecodable cached report")
		return nil, false
	}
	rep.Username = username
	return &rep, true
}

// Analyze fetches username's recent games and produces a full report.
// progress fires after each finished game; a player with no recent games
// yields an empty, completed report.
func (s *Service) Analyze(ctx context.Context, username string, progress func(done, total int, message string)) (*AnalysisReport, error) {
	start := s.now()

	games, err := s.source.FetchGames(ctx, username, s.cfg.MaxGames)
	if err != nil {
		return nil, err
	}
	if len(games) == 0 {
		s.cfg.Logger.Info().Str("username", username).Msg("no recent games to analyze")
		rep := &AnalysisReport{
			Username:     username,
			Games:        []GameReport{},
			AnalysisTime: 0,
		}
		s.storeReport(username, rep)
		return rep, nil
	}

	s.cfg.Logger.Info().
		Str("username", username).
		Int("games", len(games)).
		Msg("starting analysis")

	reports, err := s.agg.AnalyzeGames(ctx, games, func(done, total int) {
		if progress != nil {
			progress(done, total, fmt.Sprintf("analyzed %d/%d games", done, total))
		}
	})
	if err != nil {
		return nil, err
	}

	elapsed := s.now().Sub(start).Seconds()
	rep := &AnalysisReport{
		Username:     username,
		Games:        reports,
		AnalysisTime: math.Round(elapsed*100) / 100,
	}

	s.cfg.Logger.Info().
		Str("username", username).
		Int("games", len(reports)).
		Float64("analysis_time", rep.AnalysisTime).
		Msg("analysis complete")

	s.storeReport(username, rep)
	return rep, nil
}

func (s *Service) storeReport(username string, rep *AnalysisReport) {
	if s.reports == nil {
		return
	}
	raw, err := json.Marshal(rep)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Msg("encode report for cache")
		return
	}
	s.reports.PutReport(cache.ReportKey(username, s.now()), raw)
}
