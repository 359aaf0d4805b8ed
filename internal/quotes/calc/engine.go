// Package calc prices a validated quote structure. Everything here is pure:
// no I/O, no clocks, no shared state.
package calc

import (
	"github.com/shopspring/decimal"

	"github.com/quotedesk/quotedesk/internal/quotes/structure"
)

var (
	hundred = decimal.NewFromInt(100)
	eleven  = decimal.NewFromInt(11)
	vatRate = decimal.RequireFromString("0.10")
)

// Result is the full pricing breakdown of a quote. Figures carry full precision;
// call Rounded for presentation.
type Result struct {
	Subtotal            decimal.Decimal   `json:"subtotal"`
	FeeApplicableAmount decimal.Decimal   `json:"fee_applicable_amount"`
	FeeExcludedAmount   decimal.Decimal   `json:"fee_excluded_amount"`
	AgencyFeeRate       decimal.Decimal   `json:"agency_fee_rate"`
	AgencyFee           decimal.Decimal   `json:"agency_fee"`
	DiscountAmount      decimal.Decimal   `json:"discount_amount"`
	NetBeforeVAT        decimal.Decimal   `json:"net_before_vat"`
	VATMode             structure.VATMode `json:"vat_mode"`
	VATAmount           decimal.Decimal   `json:"vat_amount"`
	FinalTotal          decimal.Decimal   `json:"final_total"`
	TotalCost           decimal.Decimal   `json:"total_cost"`
	GrossProfit         decimal.Decimal   `json:"gross_profit"`
	ProfitAmount        decimal.Decimal   `json:"profit_amount"`
	ProfitMargin        decimal.Decimal   `json:"profit_margin_percentage"`
	Groups              []GroupResult     `json:"groups"`
}

// Figures is the per-node drill-down. Profit is Subtotal minus Cost; fee,
// discount and VAT only exist at quote level.
type Figures struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	FeeApplicable decimal.Decimal `json:"fee_applicable"`
	Cost          decimal.Decimal `json:"cost"`
	Profit        decimal.Decimal `json:"profit"`
	ProfitMargin  decimal.Decimal `json:"profit_margin"`
}

type GroupResult struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Figures
	Items []ItemResult `json:"items"`
}

type ItemResult struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Figures
	Lines []LineResult `json:"lines"`
}

type LineResult struct {
	Index  int             `json:"index"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	Cost   decimal.Decimal `json:"cost"`
	InFee  bool            `json:"in_fee"`
}

// Calculate prices v. Groups, items and lines are reported in the caller's
// slice order; sums are order independent.
func Calculate(v *structure.Validated) Result {
	q := v.Quote()

	res := Result{
		Subtotal:            decimal.Zero,
		FeeApplicableAmount: decimal.Zero,
		TotalCost:           decimal.Zero,
		AgencyFeeRate:       q.AgencyFeeRate,
		DiscountAmount:      q.DiscountAmount,
		VATMode:             q.VATMode,
		Groups:              make([]GroupResult, 0, len(q.Groups)),
	}

	for gi, g := range q.Groups {
		gr := GroupResult{Index: gi, Name: g.Name, Figures: zeroFigures(), Items: make([]ItemResult, 0, len(g.Items))}
		for ii, it := range g.Items {
			inFee := g.IncludeInFee && it.IncludeInFee
			ir := ItemResult{Index: ii, Name: it.Name, Figures: zeroFigures(), Lines: make([]LineResult, 0, len(it.Details))}
			for di, line := range it.Details {
				amount := line.Amount()
				cost := line.Cost()
				ir.Lines = append(ir.Lines, LineResult{Index: di, Name: line.Name, Amount: amount, Cost: cost, InFee: inFee})
				ir.Subtotal = ir.Subtotal.Add(amount)
				ir.Cost = ir.Cost.Add(cost)
				if inFee {
					ir.FeeApplicable = ir.FeeApplicable.Add(amount)
				}
			}
			ir.Figures.finish()
			gr.Subtotal = gr.Subtotal.Add(ir.Subtotal)
			gr.Cost = gr.Cost.Add(ir.Cost)
			gr.FeeApplicable = gr.FeeApplicable.Add(ir.FeeApplicable)
			gr.Items = append(gr.Items, ir)
		}
		gr.Figures.finish()
		res.Subtotal = res.Subtotal.Add(gr.Subtotal)
		res.TotalCost = res.TotalCost.Add(gr.Cost)
		res.FeeApplicableAmount = res.FeeApplicableAmount.Add(gr.FeeApplicable)
		res.Groups = append(res.Groups, gr)
	}

	res.FeeExcludedAmount = res.Subtotal.Sub(res.FeeApplicableAmount)
	res.AgencyFee = res.FeeApplicableAmount.Mul(q.AgencyFeeRate.Div(hundred))
	res.NetBeforeVAT = res.Subtotal.Add(res.AgencyFee).Sub(q.DiscountAmount)

	switch q.VATMode {
	case structure.VATInclusive:
		res.FinalTotal = res.NetBeforeVAT
		// Reporting only: the total already contains the tax.
		res.VATAmount = res.FinalTotal.Div(eleven)
	default:
		res.VATAmount = res.NetBeforeVAT.Mul(vatRate)
		res.FinalTotal = res.NetBeforeVAT.Add(res.VATAmount)
	}

	res.GrossProfit = res.Subtotal.Sub(res.TotalCost)
	res.ProfitAmount = res.FinalTotal.Sub(res.TotalCost)
	res.ProfitMargin = margin(res.ProfitAmount, res.FinalTotal)
	return res
}

func zeroFigures() Figures {
	return Figures{
		Subtotal:      decimal.Zero,
		FeeApplicable: decimal.Zero,
		Cost:          decimal.Zero,
		Profit:        decimal.Zero,
		ProfitMargin:  decimal.Zero,
	}
}

func (f *Figures) finish() {
	f.Profit = f.Subtotal.Sub(f.Cost)
	f.ProfitMargin = margin(f.Profit, f.Subtotal)
}

func margin(profit, base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return profit.Div(base).Mul(hundred)
}

// Rounded returns a copy with every figure rounded half away from zero to places.
func (r Result) Rounded(places int32) Result {
	out := r
	round := func(v decimal.Decimal) decimal.Decimal { return v.Round(places) }
	out.Subtotal = round(r.Subtotal)
	out.FeeApplicableAmount = round(r.FeeApplicableAmount)
	out.FeeExcludedAmount = round(r.FeeExcludedAmount)
	out.AgencyFee = round(r.AgencyFee)
	out.DiscountAmount = round(r.DiscountAmount)
	out.NetBeforeVAT = round(r.NetBeforeVAT)
	out.VATAmount = round(r.VATAmount)
	out.FinalTotal = round(r.FinalTotal)
	out.TotalCost = round(r.TotalCost)
	out.GrossProfit = round(r.GrossProfit)
	out.ProfitAmount = round(r.ProfitAmount)
	out.ProfitMargin = round(r.ProfitMargin)
	out.Groups = make([]GroupResult, len(r.Groups))
	for gi, g := range r.Groups {
		ng := g
		ng.Figures = g.Figures.rounded(places)
		ng.Items = make([]ItemResult, len(g.Items))
		for ii, it := range g.Items {
			ni := it
			ni.Figures = it.Figures.rounded(places)
			ni.Lines = make([]LineResult, len(it.Lines))
			for li, l := range it.Lines {
				l.Amount = round(l.Amount)
				l.Cost = round(l.Cost)
				ni.Lines[li] = l
			}
			ng.Items[ii] = ni
		}
		out.Groups[gi] = ng
	}
	return out
}

func (f Figures) rounded(places int32) Figures {
	return Figures{
		Subtotal:      f.Subtotal.Round(places),
		FeeApplicable: f.FeeApplicable.Round(places),
		Cost:          f.Cost.Round(places),
		Profit:        f.Profit.Round(places),
		ProfitMargin:  f.ProfitMargin.Round(places),
	}
}
