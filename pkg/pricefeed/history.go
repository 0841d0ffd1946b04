package pricefeed

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const historyPathFmt = "/coins/%s/history"

type historyResponse struct {
	MarketData *struct {
		CurrentPrice map[string]decimal.Decimal `json:"current_price"`
	} `json:"market_data"`
}

// DailyPrice returns the USD price of the external asset id on the UTC calendar day of day.
func (c *HTTPClient) DailyPrice(ctx context.Context, id string, day time.Time) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("date", day.UTC().Format("02-01-2006"))
	q.Set("localization", "false")

	var resp historyResponse
	if err := c.getJSON(ctx, fmt.Sprintf(historyPathFmt, url.PathEscape(id)), q, &resp); err != nil {
		return decimal.Decimal{}, fmt.Errorf("fetch %s price for %s: %w", id, day.UTC().Format(time.DateOnly), err)
	}
	if resp.MarketData == nil {
		return decimal.Decimal{}, fmt.Errorf("%s on %s: %w", id, day.UTC().Format(time.DateOnly), ErrNotFound)
	}
	usd, ok := resp.MarketData.CurrentPrice["usd"]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%s on %s: no usd quote: %w", id, day.UTC().Format(time.DateOnly), ErrNotFound)
	}
	return usd, nil
}
