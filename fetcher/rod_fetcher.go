package fetcher

import (
	"context"
	"fmt"
	"os"

	"cmt-fetcher/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// RodConfig configures the headless browser
type RodConfig struct {
	// UserDataDir keeps the profile on disk instead of memory
	UserDataDir string
	// Bin is the browser executable; empty searches common locations
	Bin string
}

// RodFetcher implements the Fetcher interface using rod (headless browser)
type RodFetcher struct {
	browser *rod.Browser
	logger  zerolog.Logger
}

// chromePaths are probed in order when no binary is configured
var chromePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// NewRodFetcher launches a headless browser and connects to it
func NewRodFetcher(cfg RodConfig) (*RodFetcher, error) {
	logger := logging.NewLogger("rod-fetcher")

	userDataDir := cfg.UserDataDir
	if userDataDir != "" {
		if err := os.MkdirAll(userDataDir, 0755); err != nil {
			logger.Warn().Err(err).Str("dir", userDataDir).Msg("Failed to create browser data directory")
			userDataDir = ""
		}
	}

	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Leakless(false).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-extensions").
		Set("disable-background-networking").
		Set("disable-sync").
		Set("mute-audio")
	if userDataDir != "" {
		l = l.UserDataDir(userDataDir)
	}

	bin := cfg.Bin
	if bin == "" {
		for _, path := range chromePaths {
			if _, err := os.Stat(path); err == nil {
				bin = path
				break
			}
		}
	}
	if bin != "" {
		l = l.Bin(bin)
	}

	browserURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(browserURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	logger.Info().Str("bin", bin).Msg("Browser started")

	return &RodFetcher{
		browser: browser,
		logger:  logger,
	}, nil
}

// Close closes the browser
func (rf *RodFetcher) Close() error {
	if rf.browser != nil {
		return rf.browser.Close()
	}
	return nil
}

// Fetch implements the Fetcher interface
func (rf *RodFetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	page, err := rf.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	// The document response carries the HTTP status; rod does not surface
	// it from Navigate.
	var (
		status     int
		statusText string
	)
	wait := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		status = e.Response.Status
		statusText = e.Response.StatusText
		return true
	})

	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("failed to navigate: %w", err)
	}
	wait()

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("failed to wait for page load: %w", err)
	}

	if failedStatus(status) {
		return nil, &StatusError{URL: url, StatusCode: status, Status: statusText}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to get HTML: %w", err)
	}

	finalURL := url
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	rf.logger.Debug().Str("url", finalURL).Int("status", status).Int("bytes", len(html)).Msg("Fetched page")

	return &Response{URL: finalURL, Body: []byte(html)}, nil
}
