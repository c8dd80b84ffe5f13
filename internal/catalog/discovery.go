// Package catalog discovers the structure of a course: its units and the
// playback locators of every video. Discovery drives a real browser because
// the catalog renders unit pages client-side behind an authenticated
// session.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coursegrab/internal/common/config"
	"coursegrab/pkg/models"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// ErrNoVideosFound is returned when discovery finishes without a single
// playable video. Callers treat it as a possible expired session and retry
// once re-authenticated.
var ErrNoVideosFound = errors.New("catalog: no videos found")

const pageLoadSettle = 2 * time.Second

// Discoverer resolves a normalized course URL into a manifest.
type Discoverer interface {
	Discover(ctx context.Context, courseURL string) (*models.CourseManifest, error)
}

// ChromeDiscoverer implements Discoverer with a chromedp-driven browser.
type ChromeDiscoverer struct {
	cfg     *config.CatalogConfig
	session *Session
	log     *logrus.Logger
}

// NewChromeDiscoverer creates a discoverer bound to an authenticated session.
func NewChromeDiscoverer(cfg *config.CatalogConfig, session *Session, log *logrus.Logger) *ChromeDiscoverer {
	return &ChromeDiscoverer{cfg: cfg, session: session, log: log}
}

// Discover walks the course page, extracts every unit with its videos and
// returns them in page order.
func (d *ChromeDiscoverer) Discover(ctx context.Context, courseURL string) (*models.CourseManifest, error) {
	allocCtx, allocCancel := d.createChromeContext(ctx)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(d.log.Printf))
	defer browserCancel()

	if err := d.session.Apply(browserCtx); err != nil {
		return nil, fmt.Errorf("failed to apply session: %w", err)
	}

	var courseTitle string
	var unitTitles []string
	var unitLinks []string

	err := chromedp.Run(browserCtx,
		network.Enable(),
		network.SetBlockedURLS([]string{"*.png", "*.jpg", "*.jpeg", "*.gif"}),
		emulation.SetScriptExecutionDisabled(false),
		chromedp.Navigate(courseURL),
		chromedp.Sleep(pageLoadSettle),
		chromedp.Evaluate(`document.querySelector('h1')?.textContent?.trim() ?? ''`, &courseTitle),
		chromedp.Evaluate(`[...document.querySelectorAll('a[href*="/units/"]')].map(a => a.textContent.trim())`, &unitTitles),
		chromedp.Evaluate(`[...document.querySelectorAll('a[href*="/units/"]')].map(a => a.href)`, &unitLinks),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scrape course page: %w", err)
	}

	manifest := &models.CourseManifest{
		URL:          courseURL,
		Title:        courseTitle,
		DiscoveredAt: time.Now(),
	}

	for i, link := range unitLinks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		title := "Unknown"
		if i < len(unitTitles) && unitTitles[i] != "" {
			title = unitTitles[i]
		}

		d.log.WithFields(logrus.Fields{
			"unit":  i + 1,
			"title": title,
			"url":   link,
		}).Info("Scraping unit page")

		videos, err := d.scrapeUnit(browserCtx, link)
		if err != nil {
			d.log.WithError(err).WithField("url", link).Error("Error scraping unit page")
			continue // try the remaining units instead of failing completely
		}

		manifest.Units = append(manifest.Units, models.Unit{
			Number: i + 1,
			Title:  title,
			Videos: videos,
		})
	}

	if manifest.VideoCount() == 0 {
		return nil, ErrNoVideosFound
	}

	d.log.WithFields(logrus.Fields{
		"course": courseURL,
		"units":  len(manifest.Units),
		"videos": manifest.VideoCount(),
	}).Info("Course manifest discovered")
	return manifest, nil
}

// scrapeUnit extracts the video list of one unit page. The section label
// comes from the page's leading heading.
func (d *ChromeDiscoverer) scrapeUnit(ctx context.Context, unitURL string) ([]models.VideoItem, error) {
	var section string
	var videoTitles []string
	var playbackURLs []string

	err := chromedp.Run(ctx,
		chromedp.Navigate(unitURL),
		chromedp.Sleep(pageLoadSettle),
		chromedp.Evaluate(`document.querySelector('h2')?.textContent?.trim() ?? ''`, &section),
		chromedp.Evaluate(`[...document.querySelectorAll('[data-video-title]')].map(e => e.getAttribute('data-video-title'))`, &videoTitles),
		chromedp.Evaluate(`[...document.querySelectorAll('[data-playback-url]')].map(e => e.getAttribute('data-playback-url'))`, &playbackURLs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scrape unit page: %w", err)
	}

	var videos []models.VideoItem
	for i, playback := range playbackURLs {
		if strings.TrimSpace(playback) == "" {
			continue
		}
		title := fmt.Sprintf("Video %d", i+1)
		if i < len(videoTitles) && videoTitles[i] != "" {
			title = videoTitles[i]
		}
		videos = append(videos, models.VideoItem{
			PlaybackURL: playback,
			Title:       title,
			Section:     section,
		})
	}
	return videos, nil
}

// createChromeContext creates a new allocator for the Chrome browser
func (d *ChromeDiscoverer) createChromeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(d.cfg.UserAgent),
		chromedp.Flag("headless", d.cfg.Headless),
	)
	return chromedp.NewExecAllocator(ctx, opts...)
}
