// Package settler drives accepted RFQ orders through maker last look,
// transaction submission and receipt confirmation.
package settler

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/otcdesk/rfq-settler/pkg/cache"
	"github.com/otcdesk/rfq-settler/pkg/chainclient"
	"github.com/otcdesk/rfq-settler/pkg/circuitbreaker"
	"github.com/otcdesk/rfq-settler/pkg/config"
	"github.com/otcdesk/rfq-settler/pkg/logger"
	"github.com/otcdesk/rfq-settler/pkg/makerclient"
	"github.com/otcdesk/rfq-settler/pkg/metrics"
	"github.com/otcdesk/rfq-settler/pkg/quoter"
	"github.com/otcdesk/rfq-settler/pkg/store"
)

// Settler owns the settlement pipeline for one chain and one sender.
// One job is processed by at most one Settler worker at a time; ownership
// is claimed through the store's compare-and-set.
type Settler struct {
	cfg      *config.Config
	store    store.Store
	chain    chainclient.Client
	makers   makerclient.Client
	quotes   *quoter.Quoter
	breakers *circuitbreaker.Registry
	decimals *cache.DecimalsCache
	logger   logger.Logger
	metrics  metrics.Sink

	workerID   string
	chainLabel string
	settlement common.Address
}

// New creates a settler bound to a worker identity
func New(
	cfg *config.Config,
	st store.Store,
	chain chainclient.Client,
	makers makerclient.Client,
	quotes *quoter.Quoter,
	breakers *circuitbreaker.Registry,
	decimals *cache.DecimalsCache,
	log logger.Logger,
	sink metrics.Sink,
	workerID string,
) *Settler {
	return &Settler{
		cfg:        cfg,
		store:      st,
		chain:      chain,
		makers:     makers,
		quotes:     quotes,
		breakers:   breakers,
		decimals:   decimals,
		logger:     log,
		metrics:    sink,
		workerID:   workerID,
		chainLabel: strconv.FormatInt(cfg.ChainID, 10),
		settlement: common.HexToAddress(cfg.SettlementAddress),
	}
}
