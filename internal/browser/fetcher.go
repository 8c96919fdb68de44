// internal/browser/fetcher.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultLooseGrace   = 2 * time.Second
	networkQuietPeriod  = 500 * time.Millisecond
	screenshotQuality   = 80
)

// Fetcher loads pages in a shared headless Chrome, one tab per fetch. The
// browser is launched on the first fetch.
type Fetcher struct {
	cfg        config.BrowserConfig
	looseGrace time.Duration
	logger     *zap.Logger

	initOnce      sync.Once
	initErr       error
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc

	closeOnce sync.Once
}

var _ schemas.PageFetcher = (*Fetcher)(nil)

// NewFetcher creates a fetcher. looseGrace is how long the loose strategy
// waits after DOMContentLoaded for late content.
func NewFetcher(cfg config.BrowserConfig, looseGrace time.Duration, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if looseGrace <= 0 {
		looseGrace = defaultLooseGrace
	}
	return &Fetcher{
		cfg:        cfg,
		looseGrace: looseGrace,
		logger:     logger.Named("fetcher"),
	}
}

func (f *Fetcher) initialize() error {
	f.initOnce.Do(func() {
		f.logger.Info("Launching browser", zap.Bool("headless", f.cfg.Headless))
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(f.cfg)...)
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(f.logger.Sugar().Debugf))
		if err := chromedp.Run(browserCtx); err != nil {
			cancelBrowser()
			cancelAlloc()
			f.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}
		f.browserCtx = browserCtx
		f.cancelAlloc = cancelAlloc
		f.cancelBrowser = cancelBrowser
	})
	return f.initErr
}

// Fetch loads rawURL in a fresh tab using opts.WaitStrategy and extracts it.
// A challenge page yields the observation together with a *BotChallengeError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts schemas.FetchOptions) (*schemas.PageObservation, error) {
	strategy := opts.WaitStrategy
	if strategy == "" {
		strategy = schemas.WaitNetworkIdle
	}
	fail := func(err error) error {
		return &schemas.FetchError{URL: rawURL, Strategy: strategy, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(err)
	}
	if err := f.initialize(); err != nil {
		return nil, fail(err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	w := newPageWatcher()
	chromedp.ListenTarget(tabCtx, w.handle)
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, fail(f.cause(ctx, fmt.Errorf("failed to open tab: %w", err)))
	}
	if t := chromedp.FromContext(tabCtx).Target; t != nil {
		w.setMainFrame(cdp.FrameID(t.TargetID))
	}

	runCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	var (
		finalURL, title, source string
		shot                    []byte
	)
	actions := chromedp.Tasks{
		network.Enable(),
		page.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			w.arm()
			_, _, errorText, _, err := page.Navigate(rawURL).Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return errors.New(errorText)
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if strategy == schemas.WaitDOMContentLoaded {
				return w.waitDOMReady(ctx, f.looseGrace)
			}
			return w.waitNetworkIdle(ctx, networkQuietPeriod)
		}),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &source, chromedp.ByQuery),
	}
	if opts.Screenshot {
		actions = append(actions, chromedp.FullScreenshot(&shot, screenshotQuality))
	}

	start := time.Now()
	if err := chromedp.Run(runCtx, actions); err != nil {
		return nil, fail(f.cause(ctx, err))
	}

	obs, indicator, err := Extract(source, finalURL)
	if err != nil {
		return nil, fail(err)
	}
	obs.URL = rawURL
	obs.FinalURL = finalURL
	obs.StatusCode = w.status()
	obs.Screenshot = shot
	obs.FetchedAt = time.Now()
	if obs.Title == "" {
		obs.Title = title
	}
	if indicator == "" {
		indicator = DetectTitle(title)
		obs.BotChallenge = indicator != ""
	}

	f.logger.Debug("Page fetched",
		zap.String("url", rawURL),
		zap.String("final_url", finalURL),
		zap.String("strategy", string(strategy)),
		zap.Int("status", obs.StatusCode),
		zap.Int("links", len(obs.Links)),
		zap.Duration("elapsed", time.Since(start)),
	)
	if indicator != "" {
		f.logger.Warn("Bot challenge detected", zap.String("url", finalURL), zap.String("indicator", indicator))
		return obs, &schemas.BotChallengeError{URL: finalURL, Indicator: indicator}
	}
	return obs, nil
}

// cause prefers the caller's cancellation over the chromedp error it produced.
func (f *Fetcher) cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Close shuts the browser down. It is safe to call more than once.
func (f *Fetcher) Close() error {
	f.closeOnce.Do(func() {
		if f.cancelBrowser != nil {
			f.cancelBrowser()
			f.cancelAlloc()
			f.logger.Info("Browser closed")
		}
	})
	return nil
}

// -- Page watcher --

// pageWatcher follows the lifecycle and network events of one tab. Events
// that arrive before arm are ignored so the initial blank page does not count.
type pageWatcher struct {
	mu           sync.Mutex
	armed        bool
	mainFrame    cdp.FrameID
	inflight     map[network.RequestID]bool
	lastActivity time.Time
	statusCode   int

	domReady chan struct{}
	loaded   chan struct{}
	domOnce  sync.Once
	loadOnce sync.Once
}

func newPageWatcher() *pageWatcher {
	return &pageWatcher{
		inflight: make(map[network.RequestID]bool),
		domReady: make(chan struct{}),
		loaded:   make(chan struct{}),
	}
}

func (w *pageWatcher) setMainFrame(id cdp.FrameID) {
	w.mu.Lock()
	w.mainFrame = id
	w.mu.Unlock()
}

func (w *pageWatcher) arm() {
	w.mu.Lock()
	w.armed = true
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

func (w *pageWatcher) handle(ev any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed {
		return
	}
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		w.inflight[e.RequestID] = true
		w.lastActivity = time.Now()
	case *network.EventLoadingFinished:
		delete(w.inflight, e.RequestID)
		w.lastActivity = time.Now()
	case *network.EventLoadingFailed:
		delete(w.inflight, e.RequestID)
		w.lastActivity = time.Now()
	case *network.EventResponseReceived:
		if e.Type == network.ResourceTypeDocument && (w.mainFrame == "" || e.FrameID == w.mainFrame) {
			w.statusCode = int(e.Response.Status)
		}
	case *page.EventDomContentEventFired:
		w.domOnce.Do(func() { close(w.domReady) })
	case *page.EventLoadEventFired:
		w.domOnce.Do(func() { close(w.domReady) })
		w.loadOnce.Do(func() { close(w.loaded) })
	}
}

func (w *pageWatcher) status() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusCode
}

// waitDOMReady blocks until DOMContentLoaded, then lets grace elapse for late content.
func (w *pageWatcher) waitDOMReady(ctx context.Context, grace time.Duration) error {
	select {
	case <-w.domReady:
	case <-ctx.Done():
		return fmt.Errorf("waiting for DOMContentLoaded: %w", ctx.Err())
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitNetworkIdle blocks until the load event has fired and no request has
// been in flight for quiet.
func (w *pageWatcher) waitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	select {
	case <-w.loaded:
	case <-ctx.Done():
		return fmt.Errorf("waiting for load event: %w", ctx.Err())
	}

	ticker := time.NewTicker(quiet / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for network idle: %w", ctx.Err())
		case <-ticker.C:
			if w.idleFor(quiet) {
				return nil
			}
		}
	}
}

func (w *pageWatcher) idleFor(quiet time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.inflight) > 0 {
		w.lastActivity = time.Now()
		return false
	}
	return time.Since(w.lastActivity) >= quiet
}
