package fetch

import (
	"fmt"

	"github.com/rs/zerolog"

	"omnidownloader/internal/infra"
)

// FromConfig builds the adapter selected by cfg.Fetcher.
func FromConfig(cfg *infra.Config, workspace Workspace, logger zerolog.Logger) (Fetcher, error) {
	switch cfg.Fetcher {
	case infra.FetcherSimulated:
		return NewSimulated(workspace, cfg.SimulatedStep, cfg.SimulatedInterval, logger), nil
	case infra.FetcherYTDLP:
		return NewYTDLP(cfg.YTDLPBin, workspace, logger), nil
	case infra.FetcherHTTP:
		return NewHTTP(nil, workspace, logger), nil
	case infra.FetcherAuto:
		return Mux{
			Direct:    NewHTTP(nil, workspace, logger),
			Extractor: NewYTDLP(cfg.YTDLPBin, workspace, logger),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported fetcher %q", cfg.Fetcher)
	}
}
