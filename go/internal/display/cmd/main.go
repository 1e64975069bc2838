package main

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/display"
	"github.com/mcdev12/timetrial/go/internal/display/client"
	"github.com/mcdev12/timetrial/go/internal/document"
	"github.com/mcdev12/timetrial/go/internal/leaderboard"
	"github.com/mcdev12/timetrial/go/internal/models"
)

type displayConfig struct {
	ServerURL    string        `env:"SERVER_URL" envDefault:"ws://localhost:9999/ws"`
	Resync       time.Duration `env:"RESYNC" envDefault:"60s"`
	TimerRefresh time.Duration `env:"TIMER_REFRESH" envDefault:"1s"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var cfg displayConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TIMETRIAL_DISPLAY_"}); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	clock := clockwork.NewRealClock()
	pager := display.NewPager(clock, showPage)

	var c *client.Client
	refresh := func() {
		pager.Update(leaderboard.SettingsFromState(c.State()), c.Leaderboard())
	}
	clientCfg := client.DefaultConfig(cfg.ServerURL)
	clientCfg.ResyncInterval = cfg.Resync
	c = client.New(clientCfg, clock, client.Handlers{
		State:       func(document.Map) { refresh() },
		Leaderboard: func([]models.Entry) { refresh() },
		NewScore: func(score leaderboard.NewScore) {
			d, _ := score.Entry.Elapsed()
			log.Info().
				Int("rank", score.Rank+1).
				Str("name", playerName(score.Entry.Session)).
				Str("time", display.FormatScore(d)).
				Msg("new score")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pager.Run(ctx)
	go showTimers(ctx, clock, c, cfg.TimerRefresh)
	go func() {
		if err := c.Run(ctx); err != nil {
			log.Error().Err(err).Msg("display client failed")
			cancel()
		}
	}()

	log.Info().Str("server", cfg.ServerURL).Msg("display started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}
	cancel()
	log.Info().Msg("display stopped")
}

func showPage(page display.Page) {
	log.Info().Int("page", page.Index+1).Int("pages", page.Count).Msg("leaderboard")
	for i, e := range page.Entries {
		score := "--"
		if d, ok := e.Elapsed(); ok {
			score = display.FormatScore(d)
		}
		log.Info().
			Int("rank", page.FirstRank+i+1).
			Str("name", playerName(e.Session)).
			Str("time", score).
			Send()
	}
}

// showTimers logs the live timer of every player who is running.
func showTimers(ctx context.Context, clock clockwork.Clock, c *client.Client, every time.Duration) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		state := c.State()
		keys := make([]string, 0, len(state))
		for k := range state {
			if _, ok := models.ParsePlayerKey(k); ok {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)

		now := c.ServerNow()
		for _, k := range keys {
			s, ok := models.SessionFromValue(state[k])
			if !ok || s.CurrentPhase() != models.PhasePlaying {
				continue
			}
			log.Info().Str("player", k).Str("timer", display.TimerText(s, now)).Send()
		}
	}
}

func playerName(s models.Session) string {
	name := s.Form["firstName"]
	if last := s.Form["lastName"]; last != "" {
		name += " " + string([]rune(last)[:1]) + "."
	}
	if name == "" {
		return "anonymous"
	}
	return name
}
