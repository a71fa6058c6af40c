// Package chrome implements render.Session on a headless Chrome driven by go-rod.
package chrome

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"adscraper/internal/render"
)

type Config struct {
	Headless   bool
	NoSandbox  bool
	BrowserBin string
	ControlURL string
	Stealth    bool
	PageLoad   time.Duration
}

// Browser is a render.SessionFactory. The underlying browser is launched
// lazily and relaunched after a failed Open.
type Browser struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	launch  *launcher.Launcher
}

func New(cfg Config, logger *slog.Logger) *Browser {
	return &Browser{cfg: cfg, logger: logger}
}

func (b *Browser) Open(ctx context.Context) (render.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		if err := b.connect(); err != nil {
			return nil, render.TransportError("launch browser", err)
		}
	}

	page, err := b.newPage()
	if err != nil {
		b.reset()
		return nil, render.TransportError("open page", err)
	}

	return newSession(page.Context(ctx), b.cfg.PageLoad), nil
}

// Close kills the browser process if one was launched.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
	return nil
}

func (b *Browser) connect() error {
	controlURL := b.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().
			Headless(b.cfg.Headless).
			NoSandbox(b.cfg.NoSandbox)
		if b.cfg.BrowserBin != "" {
			l = l.Bin(b.cfg.BrowserBin)
		}
		l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
		l.Set(flags.Flag("disable-dev-shm-usage"))
		l.Set(flags.Flag("disable-extensions"))
		l.Set(flags.Flag("no-first-run"))

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch: %w", err)
		}
		controlURL = u
		b.launch = l
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if b.launch != nil {
			b.launch.Kill()
			b.launch = nil
		}
		return fmt.Errorf("connect: %w", err)
	}

	b.logger.Info("browser connected", "control_url", controlURL)
	b.browser = browser
	return nil
}

func (b *Browser) newPage() (*rod.Page, error) {
	if b.cfg.Stealth {
		return stealth.Page(b.browser)
	}
	return b.browser.Page(proto.TargetCreateTarget{})
}

func (b *Browser) reset() {
	if b.browser != nil {
		_ = b.browser.Close()
		b.browser = nil
	}
	if b.launch != nil {
		b.launch.Kill()
		b.launch = nil
	}
}
