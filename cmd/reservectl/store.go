package main

import (
	"fmt"
	"io"

	"github.com/warp/reservation-engine/generic"
	"github.com/warp/reservation-engine/notify"
	"github.com/warp/reservation-engine/store/sqlite"
)

func (c *cli) openStore() (*sqlite.Store, error) {
	store, err := sqlite.New(c.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.dbPath, err)
	}
	return store, nil
}

// engine builds an engine over store. Events go to the log only; the CLI
// does not publish to the broker.
func (c *cli) engine(store *sqlite.Store, clock generic.Clock, logw io.Writer) *generic.Engine {
	logger := c.cfg.Logger(logw)
	return &generic.Engine{
		Store:         store,
		Users:         store,
		Resources:     store,
		Closures:      store,
		Events:        notify.LogEmitter{Logger: logger},
		Clock:         clock,
		Logger:        logger,
		SeriesHorizon: c.cfg.SeriesHorizon,
	}
}
