package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonboulle/clockwork"

	"github.com/obsidianstack/octo-agent/agent/internal/session"
	"github.com/obsidianstack/octo-agent/pkg/types"
)

// maxBody caps how much of the statistics page is read.
const maxBody = 4 << 20

// ErrSessionExpired is wrapped (as an authentication failure) when the portal
// answers a data request with its login page. The session should be
// invalidated and the request retried once with a fresh login.
var ErrSessionExpired = errors.New("session expired")

// ScrapeResult is the parsed content of one statistics page.
type ScrapeResult struct {
	// Kilometers is the KM TOTALI PERCORSI figure.
	Kilometers float64

	// ReportedDate is the end date ("AL:") of the statistics period.
	// Only meaningful when DateReported is true.
	ReportedDate time.Time
	DateReported bool

	ScrapedAt time.Time
}

// Reading converts the result into the exposed Reading, falling back to the
// fetch time when the portal gave no date.
func (r *ScrapeResult) Reading() types.Reading {
	observed := r.ScrapedAt
	if r.DateReported {
		observed = r.ReportedDate
	}
	return types.Reading{
		Value:        r.Kilometers,
		ObservedAt:   observed,
		DateReported: r.DateReported,
		FetchedAt:    r.ScrapedAt,
	}
}

// Scraper fetches and parses the portal's statistics page.
type Scraper struct {
	statsURL string
	clock    clockwork.Clock
}

// New returns a Scraper reading statsURL. A nil clock uses wall time.
func New(statsURL string, clock clockwork.Clock) *Scraper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scraper{statsURL: statsURL, clock: clock}
}

// Scrape fetches the statistics page using sess and extracts the total
// kilometers and report date.
//
// Errors are *session.Error values: ErrTransport for connectivity and
// unexpected statuses, ErrAuthentication (wrapping ErrSessionExpired) when
// the portal bounces to login, and ErrDataFormat when the page lacks the
// kilometers figure. A missing date is not an error.
func (s *Scraper) Scrape(ctx context.Context, sess *session.Session) (*ScrapeResult, error) {
	const op = "statistics"
	if sess == nil {
		return nil, session.AuthError(op, ErrSessionExpired)
	}

	slog.Debug("scraper: fetching statistics", "url", s.statsURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.statsURL, nil)
	if err != nil {
		return nil, session.TransportError(op, fmt.Errorf("build request: %w", err))
	}
	resp, err := sess.Client().Do(req)
	if err != nil {
		return nil, session.TransportError(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, session.AuthError(op, fmt.Errorf("%w: status %d", ErrSessionExpired, resp.StatusCode))
	case session.IsLoginRedirect(resp):
		return nil, session.AuthError(op, fmt.Errorf("%w: redirected to login", ErrSessionExpired))
	case resp.StatusCode != http.StatusOK:
		return nil, session.TransportError(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, session.TransportError(op, fmt.Errorf("read page: %w", err))
	}
	if session.IsLoginPage(doc) {
		return nil, session.AuthError(op, fmt.Errorf("%w: login form served", ErrSessionExpired))
	}

	km, err := findKilometers(doc)
	if err != nil {
		slog.Warn("scraper: statistics page not understood",
			"err", err,
			"excerpt", excerpt(doc),
		)
		return nil, session.DataFormatError(op, err)
	}

	res := &ScrapeResult{Kilometers: km, ScrapedAt: s.clock.Now()}
	if d, ok := findReportDate(doc); ok {
		res.ReportedDate, res.DateReported = d, true
	} else {
		slog.Debug("scraper: no report date on page, using fetch time")
	}

	slog.Debug("scraper: statistics parsed",
		"km", res.Kilometers,
		"date_reported", res.DateReported,
		"report_date", res.ReportedDate.Format(types.DateLayout),
	)
	return res, nil
}
