package app

import (
	"fmt"
	"strings"

	"stockmetrics/config"
	"stockmetrics/internal/model"
	"stockmetrics/internal/notification"
	"stockmetrics/internal/poll"
	"stockmetrics/internal/provider/eodhd"
	"stockmetrics/internal/provider/formula"
	"stockmetrics/internal/provider/yahoo"
	sqlitestore "stockmetrics/internal/store/sqlite"
	"stockmetrics/internal/symbols"
)

// sp500Limit is how many constituents the S&P 500 source keeps.
const sp500Limit = 50

func (svc *Service) buildProvider() (model.PriceSeriesProvider, error) {
	switch svc.cfg.Provider {
	case config.ProviderYahoo:
		return yahoo.New(), nil
	case config.ProviderEODHD:
		return svc.eodhdClient(), nil
	case config.ProviderFormula:
		if svc.scratch == nil {
			return nil, fmt.Errorf("%w: formula provider needs redis", model.ErrConfiguration)
		}
		return formula.New(svc.scratch, poll.Config{
			Interval:    svc.cfg.PollInterval,
			MaxAttempts: svc.cfg.PollMaxAttempts,
		}, formula.WithClock(svc.clock), formula.WithMetrics(svc.prom), formula.WithLogger(svc.log)), nil
	}
	return nil, fmt.Errorf("%w: unknown PROVIDER %q", model.ErrConfiguration, svc.cfg.Provider)
}

// backingProvider evaluates formulas in the recalc worker: EODHD when a key
// is configured, Yahoo otherwise.
func (svc *Service) backingProvider() model.PriceSeriesProvider {
	if svc.cfg.EODHDAPIKey != "" {
		return svc.eodhdClient()
	}
	return yahoo.New()
}

func (svc *Service) eodhdClient() *eodhd.Client {
	return eodhd.NewClient(svc.cfg.EODHDAPIKey,
		eodhd.WithBaseURL(svc.cfg.EODHDBaseURL),
		eodhd.WithRateLimit(svc.cfg.EODHDRateLimit),
	)
}

func (svc *Service) buildSource() (model.SymbolSource, error) {
	kind, arg, err := svc.cfg.ParseSymbolSource()
	if err != nil {
		return nil, err
	}

	var primary model.SymbolSource
	switch kind {
	case config.SourceSheet:
		primary = sqlitestore.NewSymbolSheet(svc.workbook, arg)
	case config.SourceFile:
		primary = symbols.File{Path: arg}
	case config.SourceSP500:
		primary = symbols.NewSP500(arg, sp500Limit)
	}

	if !svc.cfg.SymbolFallback {
		return primary, nil
	}
	return symbols.Fallback{
		Sources: []model.SymbolSource{primary, symbols.NewSP500("", sp500Limit), symbols.Static(symbols.DefaultList)},
		Names:   []string{strings.TrimSpace(svc.cfg.SymbolSource), "sp500", "default"},
	}, nil
}

func (svc *Service) buildNotifier() notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier()}
	if svc.cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(svc.cfg.WebhookURL))
	}
	return n
}
