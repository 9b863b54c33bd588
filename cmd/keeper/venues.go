package main

import (
	"fmt"

	"fundingkeeper/internal/config"
	"fundingkeeper/internal/core"
)

// VenueFactory builds a concrete core.VenueAdapter (or core.LendingAdapter,
// for venues flagged IsLending) from its config entry. Venue adapters
// are deliberately out of scope for this module — the core consumes only
// their abstract operations — so this binary ships no concrete
// implementations itself. A deployment wires real ones in by calling
// RegisterVenueFactory from an init() in its own package before main runs.
type VenueFactory func(name string, cfg config.VenueConfig) (core.VenueAdapter, error)

var venueFactories = map[string]VenueFactory{}

// RegisterVenueFactory makes kind available to buildVenues. Call from an
// init() in a package that imports this one for its side effect, or from a
// build-tag-gated file added at deployment time.
func RegisterVenueFactory(kind string, f VenueFactory) {
	venueFactories[kind] = f
}

// buildVenues constructs one adapter per configured venue whose name has a
// registered factory. A venue with no matching factory is skipped with a
// warning rather than failing startup outright, so a keeper configured for
// venues not yet wired into this particular binary still runs against
// whichever ones are available.
func buildVenues(cfg *config.Config, logger core.Logger) (map[string]core.VenueAdapter, error) {
	venues := make(map[string]core.VenueAdapter, len(cfg.Venues))
	for name, vc := range cfg.Venues {
		factory, ok := venueFactories[name]
		if !ok {
			logger.Warn("no venue adapter factory registered, skipping", "venue", name)
			continue
		}
		adapter, err := factory(name, vc)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", name, err)
		}
		venues[name] = adapter
	}
	if len(venues) == 0 {
		logger.Warn("no venue adapters available, keeper will idle every loop")
	}
	return venues, nil
}
