package clicktochat

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

// Defaults mirror what a desktop Chrome in Brazil would send.
const (
	DefaultBaseURL        = "https://api.whatsapp.com/send/?phone="
	DefaultTimeout        = 15 * time.Second
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"
	DefaultAcceptLanguage = "pt-BR,pt;q=0.9,en;q=0.8"
)

// Config controls the probe request.
type Config struct {
	// BaseURL is concatenated with the identifier digits.
	BaseURL        string
	Timeout        time.Duration
	UserAgent      string
	AcceptLanguage string
	// Limiter paces requests; nil sends them as fast as the caller asks.
	Limiter Limiter
}

// Limiter blocks until a request to url may be sent.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = DefaultAcceptLanguage
	}
	return c
}

// Prober implements verify.Prober using a Colly collector.
type Prober struct {
	cfg           Config
	diagnostics   verify.DiagnosticStore
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Prober. diagnostics may be nil, in which case capture requests
// are ignored.
func New(cfg Config, diagnostics verify.DiagnosticStore, logger *zap.Logger) *Prober {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.UserAgent(cfg.UserAgent),
	)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Prober{
		cfg:           cfg,
		diagnostics:   diagnostics,
		logger:        logger,
		baseCollector: c,
	}
}

// Probe fetches the click-to-chat page for id and classifies it. Transport
// failures and timeouts yield OutcomeError; Probe never returns a Go error.
func (p *Prober) Probe(ctx context.Context, id verify.Identifier, captureDiagnostic bool) verify.LookupResult {
	url := p.cfg.BaseURL + id.String()
	if p.cfg.Limiter != nil {
		if err := p.cfg.Limiter.Wait(ctx, url); err != nil {
			return verify.LookupResult{Outcome: verify.OutcomeError, Via: verify.TierClickToChat, Err: err.Error()}
		}
	}
	body, err := p.fetch(ctx, url)
	if err != nil {
		return verify.LookupResult{Outcome: verify.OutcomeError, Via: verify.TierClickToChat, Err: err.Error()}
	}
	if captureDiagnostic {
		p.saveDiagnostic(ctx, id, body)
	}
	return verify.LookupResult{Outcome: Classify(body), Via: verify.TierClickToChat}
}

func (p *Prober) saveDiagnostic(ctx context.Context, id verify.Identifier, body []byte) {
	if p.diagnostics == nil {
		return
	}
	if err := p.diagnostics.Save(ctx, id, body); err != nil {
		p.logger.Warn("diagnostic capture failed",
			zap.String("digits", id.String()),
			zap.Error(err),
		)
	}
}

func (p *Prober) fetch(ctx context.Context, url string) ([]byte, error) {
	var (
		body     []byte
		fetchErr error
	)
	collector := p.baseCollector.Clone()
	collector.SetRequestTimeout(p.cfg.Timeout)
	p.configureCollectorHooks(collector, &body, &fetchErr)
	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return nil, err
	}
	return body, nil
}

func (p *Prober) configureCollectorHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", p.cfg.UserAgent)
		r.Headers.Set("Accept-Language", p.cfg.AcceptLanguage)
	})
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("click-to-chat probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("click-to-chat visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("click-to-chat response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
