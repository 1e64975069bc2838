package main

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/config"
	"github.com/mcdev12/timetrial/go/internal/models"
	"github.com/mcdev12/timetrial/go/internal/store"
)

func setupStorage(cfg config.Config, clock clockwork.Clock) (*store.State, *store.Document[[]models.Entry]) {
	defaults, err := config.LoadDefaults(cfg.DefaultsFile)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.DefaultsFile).Msg("ignoring defaults file")
	}

	var codec store.Codec = store.PlainCodec{}
	if cfg.Encrypt {
		codec = store.SecretBoxCodec{}
	}

	docCfg := func(name string) store.Config {
		c := store.DefaultConfig(name)
		c.Clock = clock
		c.SaveWindow = cfg.SaveDebounce
		return c
	}

	state := store.OpenState(store.NewFilePersister(cfg.StatePath(), codec), defaults.State(), docCfg("state"))
	sessions := store.Open(store.NewFilePersister(cfg.SessionsPath(), codec), []models.Entry{}, docCfg("sessions"))

	log.Info().
		Str("data_dir", cfg.DataDir).
		Bool("encrypted", cfg.Encrypt).
		Int("sessions", len(sessions.Get())).
		Msg("documents loaded")
	return state, sessions
}
