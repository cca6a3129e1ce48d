package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"time"

	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/provider"
)

type fundamentalsResponse struct {
	General struct {
		Code              provider.FlexString `json:"Code"`
		Name              provider.FlexString `json:"Name"`
		Sector            provider.FlexString `json:"Sector"`
		Industry          provider.FlexString `json:"Industry"`
		Description       provider.FlexString `json:"Description"`
		WebURL            provider.FlexString `json:"WebURL"`
		CountryName       provider.FlexString `json:"CountryName"`
		CurrencyCode      provider.FlexString `json:"CurrencyCode"`
		Exchange          provider.FlexString `json:"Exchange"`
		IPODate           provider.FlexString `json:"IPODate"`
		FullTimeEmployees provider.FlexFloat  `json:"FullTimeEmployees"`
	} `json:"General"`
	Highlights struct {
		MarketCapitalization provider.FlexFloat `json:"MarketCapitalization"`
	} `json:"Highlights"`
	Financials struct {
		IncomeStatement statementResponse `json:"Income_Statement"`
		BalanceSheet    statementResponse `json:"Balance_Sheet"`
		CashFlow        statementResponse `json:"Cash_Flow"`
	} `json:"Financials"`
	Earnings struct {
		History map[string]struct {
			EPSActual       provider.FlexFloat `json:"epsActual"`
			EPSEstimate     provider.FlexFloat `json:"epsEstimate"`
			SurprisePercent provider.FlexFloat `json:"surprisePercent"`
		} `json:"History"`
	} `json:"Earnings"`
}

type statementResponse struct {
	Yearly    map[string]map[string]provider.FlexFloat `json:"yearly"`
	Quarterly map[string]map[string]provider.FlexFloat `json:"quarterly"`
}

func (c *Client) fundamentals(ctx context.Context, symbol string) (*fundamentalsResponse, error) {
	body, err := c.get(ctx, "/fundamentals/"+url.PathEscape(NormalizeSymbol(symbol)), nil, "json")
	if err != nil {
		return nil, err
	}
	var resp fundamentalsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode fundamentals: %v", fetcher.ErrUnavailable, err)
	}
	return &resp, nil
}

// Overview fetches descriptive company data.
func (c *Client) Overview(ctx context.Context, symbol string) (*domain.CompanyOverview, error) {
	resp, err := c.fundamentals(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if resp.General.Name == "" && resp.General.Code == "" {
		return nil, fmt.Errorf("overview %s: %w", symbol, fetcher.ErrUnavailable)
	}

	ov := &domain.CompanyOverview{
		Symbol:      domain.NormalizeSymbol(symbol),
		Name:        resp.General.Name.String(),
		Sector:      resp.General.Sector.String(),
		Industry:    resp.General.Industry.String(),
		Country:     resp.General.CountryName.String(),
		Currency:    resp.General.CurrencyCode.String(),
		Exchange:    resp.General.Exchange.String(),
		Description: resp.General.Description.String(),
		WebsiteURL:  domain.NormalizeURL(resp.General.WebURL.String()),
		MarketCap:   resp.Highlights.MarketCapitalization.Ptr(),
	}
	if resp.General.FullTimeEmployees.Valid() {
		n := int64(float64(resp.General.FullTimeEmployees))
		ov.Employees = &n
	}
	if d, err := time.Parse("2006-01-02", resp.General.IPODate.String()); err == nil {
		d = d.UTC()
		ov.ListingDate = &d
	}
	return ov, nil
}

// Financials fetches the three statement kinds in both cadences.
func (c *Client) Financials(ctx context.Context, symbol string) (*domain.Financials, error) {
	resp, err := c.fundamentals(ctx, symbol)
	if err != nil {
		return nil, err
	}

	fin := &domain.Financials{
		Income:   mapStatementGroup(resp.Financials.IncomeStatement),
		Balance:  mapStatementGroup(resp.Financials.BalanceSheet),
		Cashflow: mapStatementGroup(resp.Financials.CashFlow),
	}
	if fin.Income == nil && fin.Balance == nil && fin.Cashflow == nil {
		return nil, fmt.Errorf("financials %s: %w", symbol, fetcher.ErrUnavailable)
	}
	return fin, nil
}

func mapStatementGroup(resp statementResponse) *domain.StatementGroup {
	annual := mapStatement(resp.Yearly)
	quarterly := mapStatement(resp.Quarterly)
	if annual == nil && quarterly == nil {
		return nil
	}
	return &domain.StatementGroup{Annual: annual, Quarterly: quarterly}
}

func mapStatement(periods map[string]map[string]provider.FlexFloat) domain.Statement {
	if len(periods) == 0 {
		return nil
	}
	out := make(domain.Statement, 0, len(periods))
	for date, metrics := range periods {
		ending, err := time.Parse("2006-01-02", date)
		if err != nil {
			continue
		}
		period := domain.StatementPeriod{
			PeriodEnding: ending.UTC(),
			Metrics:      make(map[string]*float64, len(metrics)),
		}
		for name, v := range metrics {
			period.Metrics[name] = v.Ptr()
		}
		out = append(out, period)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodEnding.After(out[j].PeriodEnding) })
	return out
}

// Earnings fetches the quarterly earnings history, most recent first.
func (c *Client) Earnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error) {
	resp, err := c.fundamentals(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(resp.Earnings.History) == 0 {
		return nil, fmt.Errorf("earnings %s: %w", symbol, fetcher.ErrUnavailable)
	}

	out := make([]domain.EarningsRecord, 0, len(resp.Earnings.History))
	for date, rec := range resp.Earnings.History {
		period, err := time.Parse("2006-01-02", date)
		if err != nil {
			continue
		}
		out = append(out, domain.EarningsRecord{
			Period:          period.UTC(),
			ReportedEPS:     rec.EPSActual.Ptr(),
			EstimatedEPS:    rec.EPSEstimate.Ptr(),
			SurprisePercent: rec.SurprisePercent.Ptr(),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("earnings %s: %w", symbol, fetcher.ErrUnavailable)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.After(out[j].Period) })
	return out, nil
}
