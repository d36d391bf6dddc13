package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/progress"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

const (
	defaultURL           = "https://web.whatsapp.com"
	defaultPollInterval  = 2 * time.Second
	defaultLookupTimeout = 30 * time.Second
	lookupPollInterval   = 250 * time.Millisecond
	defaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"
)

// ErrNotReady is returned by Lookup before the session has logged in.
var ErrNotReady = errors.New("session not ready")

// Config controls the browser session.
type Config struct {
	URL string
	// UserDataDir keeps the login across restarts.
	UserDataDir  string
	ChromePath   string
	Headless     bool
	UserAgent    string
	PollInterval time.Duration
	// LookupTimeout bounds a single lookup inside the browser.
	LookupTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = defaultURL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = defaultLookupTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}

// Session implements verify.SessionProvider on top of a Chrome instance.
type Session struct {
	cfg     Config
	emitter progress.Emitter
	logger  *zap.Logger

	// pageMu serializes use of the single browser tab.
	pageMu sync.Mutex

	ready    atomic.Bool
	mu       sync.RWMutex
	artifact string

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	stopCh        chan struct{}
	doneCh        chan struct{}
	closeOnce     sync.Once
}

// New creates a Session. Call Start to launch the browser.
func New(cfg Config, emitter progress.Emitter, logger *zap.Logger) *Session {
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:     cfg.withDefaults(),
		emitter: emitter,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches Chrome, opens the web client and begins watching it for
// login codes and readiness. The browser outlives ctx; use Close to stop it.
func (s *Session) Start(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(s.cfg.UserAgent),
	)
	if s.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(s.cfg.UserDataDir))
	}
	if s.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ChromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	sugar := s.logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	)
	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel

	startCtx, cancel := context.WithTimeout(browserCtx, 2*time.Minute)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(startCtx,
		emulation.SetUserAgentOverride(s.cfg.UserAgent),
		chromedp.Navigate(s.cfg.URL),
	)
	if err != nil {
		browserCancel()
		allocCancel()
		s.browserCtx, s.browserCancel, s.allocCancel = nil, nil, nil
		return fmt.Errorf("open web client: %w", err)
	}
	s.logger.Info("browser session started", zap.String("url", s.cfg.URL), zap.Bool("headless", s.cfg.Headless))
	go s.watch()
	return nil
}

// Close stops the watcher and shuts Chrome down.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		if s.browserCancel == nil {
			close(s.doneCh)
			return
		}
		<-s.doneCh
		s.browserCancel()
		s.allocCancel()
	})
}

// Ready reports whether the session is logged in.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// LoginArtifact returns the most recent login QR data URL.
func (s *Session) LoginArtifact() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifact
}

// Lookup opens the send page for id and waits for the client to either
// open a chat or reject the number.
func (s *Session) Lookup(ctx context.Context, id verify.Identifier) (bool, error) {
	if !s.Ready() || s.browserCtx == nil {
		return false, ErrNotReady
	}
	s.pageMu.Lock()
	defer s.pageMu.Unlock()

	lookupCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.LookupTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(lookupCtx, chromedp.Navigate(lookupURL(s.cfg.URL, id))); err != nil {
		return false, fmt.Errorf("open send page: %w", err)
	}
	ticker := time.NewTicker(lookupPollInterval)
	defer ticker.Stop()
	for {
		var raw string
		if err := chromedp.Run(lookupCtx, chromedp.Evaluate(lookupStateScript, &raw)); err != nil {
			return false, fmt.Errorf("inspect send page: %w", err)
		}
		if outcome, done := parseLookupState(raw); done {
			return outcome == verify.OutcomeFound, nil
		}
		select {
		case <-lookupCtx.Done():
			return false, fmt.Errorf("lookup %s: %w", id, lookupCtx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Session) watch() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.browserCtx.Done():
			s.markUnready("browser closed")
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Session) poll() {
	// A lookup owns the tab; the page state is checked on the next tick.
	if !s.pageMu.TryLock() {
		return
	}
	defer s.pageMu.Unlock()

	ctx, cancel := context.WithTimeout(s.browserCtx, s.cfg.PollInterval)
	defer cancel()
	var raw string
	if err := chromedp.Run(ctx, chromedp.Evaluate(pageStateScript, &raw)); err != nil {
		s.logger.Debug("page state check failed", zap.Error(err))
		return
	}
	s.apply(parsePageState(raw))
}

// apply records a page observation and emits the resulting transitions.
func (s *Session) apply(st pageState) {
	switch st.kind {
	case pageReady:
		if s.ready.CompareAndSwap(false, true) {
			s.setArtifact("")
			s.logger.Info("session ready")
			s.emitter.Emit(progress.Event{Kind: progress.KindReady, TS: time.Now().UTC()})
		}
	case pageLogin:
		if s.ready.Load() {
			s.markUnready("logged out")
		}
		if s.LoginArtifact() != st.artifact {
			s.setArtifact(st.artifact)
			s.emitter.Emit(progress.Event{Kind: progress.KindArtifact, TS: time.Now().UTC(), Artifact: st.artifact})
		}
	case pageLoading:
	}
}

func (s *Session) markUnready(reason string) {
	if !s.ready.CompareAndSwap(true, false) {
		return
	}
	s.logger.Warn("session lost", zap.String("reason", reason))
	s.emitter.Emit(progress.Event{Kind: progress.KindUnready, TS: time.Now().UTC(), Reason: reason})
}

func (s *Session) setArtifact(artifact string) {
	s.mu.Lock()
	s.artifact = artifact
	s.mu.Unlock()
}

var _ verify.SessionProvider = (*Session)(nil)
