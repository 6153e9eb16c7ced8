package scraper

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	statsBlock = "div#statPage2"
	kmLabel    = "KM TOTALI PERCORSI"
	dateLabel  = "AL:"
)

var (
	numberPattern  = regexp.MustCompile(`\d(?:[\d.,]*\d)?`)
	thousandsDot   = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	thousandsComma = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
	spaces         = regexp.MustCompile(`\s+`)
)

// dateLayouts are tried in order. Single-digit layout elements also accept
// zero-padded input.
var dateLayouts = []string{
	"2/1/2006",
	"2006-1-2",
	"2-1-2006",
	"2.1.2006",
}

// findKilometers locates the total kilometers figure.
func findKilometers(doc *goquery.Document) (float64, error) {
	block := doc.Find(statsBlock)
	if block.Length() > 0 {
		var (
			raw   string
			found bool
		)
		block.Find(`tr[align="center"]`).EachWithBreak(func(_ int, row *goquery.Selection) bool {
			text := strings.ToUpper(normalize(row.Text()))
			idx := strings.Index(text, kmLabel)
			if idx < 0 {
				return true
			}
			raw, found = text[idx+len(kmLabel):], true
			return false
		})
		if found {
			return lastNumber(raw)
		}
	}

	if raw, ok := labelledValue(doc); ok {
		return lastNumber(raw)
	}

	if block.Length() == 0 {
		return 0, errors.New("statistics block not found")
	}
	return 0, errors.New("kilometers row not found")
}

// labelledValue handles the alternate layout where a standalone
// "KM TOTALI PERCORSI:" element is followed by the value.
func labelledValue(doc *goquery.Document) (string, bool) {
	var value string
	doc.Find("td, th, span, b, strong, label, div, p").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if el.Children().Length() > 0 {
			return true
		}
		label := strings.ToUpper(normalize(el.Text()))
		if label != kmLabel+":" && label != kmLabel {
			return true
		}
		for _, next := range []*goquery.Selection{el.Next(), el.Parent().Next()} {
			if v := normalize(next.Text()); numberPattern.MatchString(v) {
				value = v
				return false
			}
		}
		return true
	})
	return value, value != ""
}

// findReportDate returns the date in the cell following the "AL:" cell.
func findReportDate(doc *goquery.Document) (time.Time, bool) {
	scope := doc.Find(statsBlock)
	if scope.Length() == 0 {
		scope = doc.Selection
	}
	cells := scope.Find("td.inputMask")

	var (
		date  time.Time
		found bool
	)
	cells.EachWithBreak(func(i int, cell *goquery.Selection) bool {
		if normalize(cell.Text()) != dateLabel || i+1 >= cells.Length() {
			return true
		}
		d, err := parseDate(normalize(cells.Eq(i + 1).Text()))
		if err != nil {
			return true
		}
		date, found = d, true
		return false
	})
	return date, found
}

// lastNumber parses the last number appearing in s.
func lastNumber(s string) (float64, error) {
	matches := numberPattern.FindAllString(s, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("no number in %q", s)
	}
	return parseKilometers(matches[len(matches)-1])
}

// parseKilometers parses a non-negative number that may use "." or "," as
// thousands or decimal separator. When both appear the rightmost one is the
// decimal separator. A lone separator followed by exactly three-digit groups
// is read as thousands grouping.
func parseKilometers(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	lastDot, lastComma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		decimal, grouping := ".", ","
		if lastComma > lastDot {
			decimal, grouping = ",", "."
		}
		s = strings.ReplaceAll(s, grouping, "")
		if strings.Count(s, decimal) > 1 {
			return 0, fmt.Errorf("ambiguous number %q", raw)
		}
		s = strings.Replace(s, decimal, ".", 1)
	case lastComma >= 0:
		switch {
		case thousandsComma.MatchString(s):
			s = strings.ReplaceAll(s, ",", "")
		case strings.Count(s, ",") == 1:
			s = strings.Replace(s, ",", ".", 1)
		default:
			return 0, fmt.Errorf("ambiguous number %q", raw)
		}
	case lastDot >= 0:
		switch {
		case thousandsDot.MatchString(s):
			s = strings.ReplaceAll(s, ".", "")
		case strings.Count(s, ".") > 1:
			return 0, fmt.Errorf("ambiguous number %q", raw)
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse kilometers %q: %w", raw, err)
	}
	if v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("kilometers out of range: %q", raw)
	}
	return v, nil
}

// parseDate parses a calendar date in any of dateLayouts, as midnight UTC.
func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// excerpt returns a short, whitespace-collapsed slice of the page for logs.
func excerpt(doc *goquery.Document) string {
	text := normalize(doc.Find("body").Text())
	if len(text) > 240 {
		text = text[:240] + "..."
	}
	return text
}
