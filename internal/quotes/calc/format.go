package calc

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Display is a presentation view of a Result: grouped, rounded strings in the
// caller's locale.
type Display struct {
	Locale       string `json:"locale"`
	Subtotal     string `json:"subtotal"`
	AgencyFee    string `json:"agency_fee"`
	Discount     string `json:"discount"`
	NetBeforeVAT string `json:"net_before_vat"`
	VAT          string `json:"vat"`
	FinalTotal   string `json:"final_total"`
	TotalCost    string `json:"total_cost"`
	Profit       string `json:"profit"`
	ProfitMargin string `json:"profit_margin"`
}

// Format renders r for tag with the given number of fraction digits.
func (r Result) Format(tag language.Tag, places int) Display {
	p := message.NewPrinter(tag)
	rounded := r.Rounded(int32(places))
	money := func(v decimal.Decimal) string {
		return p.Sprintf("%v", number.Decimal(v.InexactFloat64(), number.Scale(places)))
	}
	return Display{
		Locale:       tag.String(),
		Subtotal:     money(rounded.Subtotal),
		AgencyFee:    money(rounded.AgencyFee),
		Discount:     money(rounded.DiscountAmount),
		NetBeforeVAT: money(rounded.NetBeforeVAT),
		VAT:          money(rounded.VATAmount),
		FinalTotal:   money(rounded.FinalTotal),
		TotalCost:    money(rounded.TotalCost),
		Profit:       money(rounded.ProfitAmount),
		ProfitMargin: p.Sprintf("%v%%", number.Decimal(rounded.ProfitMargin.InexactFloat64(), number.Scale(2))),
	}
}

var supportedLocales = []language.Tag{language.Korean, language.English}

var localeMatcher = language.NewMatcher(supportedLocales)

// MatchLocale picks the best supported locale for an Accept-Language header.
func MatchLocale(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.Korean
	}
	_, idx, _ := localeMatcher.Match(tags...)
	return supportedLocales[idx]
}
