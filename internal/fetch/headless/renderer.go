// Package headless renders pages with a real browser for URLs whose server
// response does not carry the embedded data graph.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrDisabled is returned by the noop renderer.
var ErrDisabled = errors.New("headless rendering is disabled")

// Config controls the chromedp renderer.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
}

// Renderer drives headless Chrome via chromedp. One allocator is shared
// across renders; each render gets its own browser context.
type Renderer struct {
	cfg         Config
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a renderer backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) *Renderer {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 25 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close cancels the allocator context.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to url with a headless browser and returns the fully
// rendered DOM.
func (r *Renderer) Render(ctx context.Context, url string) ([]byte, error) {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-done:
		}
	}()
	defer close(done)

	start := time.Now()
	var html string
	actions := []chromedp.Action{
		r.userAgentAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}

	r.logger.Debug("page rendered",
		zap.String("url", url),
		zap.Duration("duration", time.Since(start)))
	return []byte(html), nil
}

func (r *Renderer) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if r.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// Noop satisfies the renderer interface when headless support is turned off.
type Noop struct{}

// Render always fails; callers fall back to the server-rendered body.
func (Noop) Render(_ context.Context, _ string) ([]byte, error) {
	return nil, ErrDisabled
}
