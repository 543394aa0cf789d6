package productive

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

// pageURL adds page[number] and page[size] to a path that may already carry filters
func (c *Client) pageURL(path string, number, size int) (string, error) {
	u, err := url.Parse(c.resolve(path))
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	q := u.Query()
	q.Set("page[number]", strconv.Itoa(number))
	q.Set("page[size]", strconv.Itoa(size))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchAllPages walks a paginated list endpoint starting at page 1 and
// returns every resource in page order.
//
// Every attempt first waits on the cooldown gate. A failed attempt marks the
// gate, logs at error severity and is retried until the attempt budget is
// spent, at which point the whole fetch fails with ErrRetriesExhausted.
// meta.total_pages is re-read on every page.
func (c *Client) FetchAllPages(ctx context.Context, path string, pageSize int, label string, sink interfaces.LogSink) ([]Resource, error) {
	if sink == nil {
		sink = interfaces.DiscardSink
	}
	if pageSize <= 0 {
		pageSize = 200
	}

	var all []Resource
	page := 1
	totalPages := 1

	for page <= totalPages {
		reqURL, err := c.pageURL(path, page, pageSize)
		if err != nil {
			return nil, err
		}

		doc, err := c.fetchPage(ctx, reqURL, label, page, sink)
		if err != nil {
			return nil, err
		}

		all = append(all, doc.Data...)
		totalPages = doc.Meta.TotalPages

		shownTotal := totalPages
		if shownTotal < page {
			shownTotal = page
		}
		sink.Log(models.SeverityInfo, fmt.Sprintf("Fetched %s page %d of %d (%d items)", label, page, shownTotal, len(doc.Data)))

		page++
		if page <= totalPages && c.pageDelay > 0 {
			if err := c.clock.Sleep(ctx, c.pageDelay); err != nil {
				return nil, err
			}
		}
	}

	c.logger.Debug().
		Str("label", label).
		Int("items", len(all)).
		Int("pages", page-1).
		Msg("Paginated fetch complete")

	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, reqURL, label string, page int, sink interfaces.LogSink) (*Document, error) {
	attemptsLeft := c.maxAttempts

	for {
		if err := c.gate.Wait(ctx, sink); err != nil {
			return nil, err
		}

		var doc Document
		err := c.get(ctx, reqURL, &doc)
		if err == nil {
			return &doc, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.gate.MarkError()
		attemptsLeft--

		c.logger.Warn().
			Err(err).
			Str("label", label).
			Int("page", page).
			Int("attempts_left", attemptsLeft).
			Msg("Page fetch failed")
		sink.Log(models.SeverityError, fmt.Sprintf("Error fetching %s page %d (%d attempts left): %v", label, page, attemptsLeft, err))

		if attemptsLeft <= 0 {
			return nil, fmt.Errorf("%w: %s page %d: %w", ErrRetriesExhausted, label, page, err)
		}
	}
}
