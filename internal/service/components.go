// File: internal/service/components.go
package service

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
	"github.com/xkilldash9x/focusgroup/internal/governor"
	"github.com/xkilldash9x/focusgroup/internal/orchestrator"
	"github.com/xkilldash9x/focusgroup/internal/tracker"
)

// ClosableFetcher is a PageFetcher that owns a browser process.
type ClosableFetcher interface {
	schemas.PageFetcher
	Close() error
}

// Components holds every initialized service a focus group needs and owns
// their shutdown order.
type Components struct {
	Config       config.Interface
	LLM          schemas.LLMClient
	Governor     *governor.Governor
	Fetcher      ClosableFetcher
	Store        schemas.ReportStore
	Tracker      *tracker.Tracker
	Orchestrator *orchestrator.Orchestrator

	logger *zap.Logger
}

// Shutdown releases resources in reverse order of creation. It is safe on
// partially initialized components.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// Browser first so no page is loading when reports are flushed.
	if c.Fetcher != nil {
		if err := c.Fetcher.Close(); err != nil {
			logger.Warn("Error while closing the browser.", zap.Error(err))
		} else {
			logger.Debug("Browser closed.")
		}
	}

	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.Warn("Error while closing the report store.", zap.Error(err))
		} else {
			logger.Debug("Report store closed.")
		}
	}

	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error while closing the reasoning client.", zap.Error(err))
		} else {
			logger.Debug("Reasoning client closed.")
		}
	}

	logger.Info("All focus group components shut down.")
}
