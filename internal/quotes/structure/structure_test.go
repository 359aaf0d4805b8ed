package structure

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func validQuote() Quote {
	return Quote{
		Title:         "Launch event",
		CustomerName:  "Acme",
		VATMode:       VATExclusive,
		AgencyFeeRate: d("10"),
		Groups: []Group{{
			Name:         "Production",
			SortOrder:    1,
			IncludeInFee: true,
			Items: []Item{{
				Name:         "Stage",
				SortOrder:    1,
				IncludeInFee: true,
				Details: []Detail{{
					Name:      "Truss",
					Quantity:  d("2"),
					Days:      d("3"),
					UnitPrice: d("1000"),
					CostPrice: d("400"),
					SortOrder: 1,
				}},
			}},
		}},
	}
}

func TestValidateAcceptsWellFormedQuote(t *testing.T) {
	require.NoError(t, Validate(validQuote()))
	v, err := Check(validQuote())
	require.NoError(t, err)
	assert.Equal(t, "Launch event", v.Quote().Title)
}

func TestValidateEmptyGroupReportsGroupIndex(t *testing.T) {
	q := validQuote()
	q.AddGroup(Group{Name: "Empty"})

	err := Validate(q)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, GroupPath(1), verrs[0].Path)
	assert.Equal(t, "items", verrs[0].Field)
	assert.Equal(t, CodeValidation, verrs[0].Code())

	_, err = Check(q)
	require.Error(t, err)
}

func TestValidateReportsEveryViolationWithPath(t *testing.T) {
	q := validQuote()
	q.AgencyFeeRate = d("120")
	q.DiscountAmount = d("-1")
	q.VATMode = "mixed"
	q.CustomerName = ""
	q.Groups[0].Items[0].Details[0].Quantity = d("-2")
	q.Groups[0].Items[0].Details[0].CostPrice = d("-0.01")
	q.Groups[0].Items = append(q.Groups[0].Items, Item{Name: "Lights"})

	_, err := CheckForSave(q)
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	got := map[string]bool{}
	for _, e := range verrs {
		got[e.Path.String()+"/"+e.Field] = true
	}
	assert.True(t, got["quote/agency_fee_rate"])
	assert.True(t, got["quote/discount_amount"])
	assert.True(t, got["quote/vat_mode"])
	assert.True(t, got["quote/customer"])
	assert.True(t, got["groups[0].items[0].details[0]/quantity"])
	assert.True(t, got["groups[0].items[0].details[0]/cost_price"])
	assert.True(t, got["groups[0].items[1]/details"])
}

func TestValidateDoesNotRequireNamesOrCustomer(t *testing.T) {
	q := Quote{
		VATMode: VATExclusive,
		Groups: []Group{{Items: []Item{{Details: []Detail{{
			Quantity: d("1"), Days: d("1"), UnitPrice: d("100000"),
		}}}}}},
	}
	require.NoError(t, Validate(q))
	_, err := Check(q)
	require.NoError(t, err)

	_, err = CheckForSave(q)
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	got := map[string]bool{}
	for _, e := range verrs {
		got[e.Path.String()+"/"+e.Field] = true
	}
	assert.Equal(t, map[string]bool{
		"quote/title":                        true,
		"quote/customer":                     true,
		"groups[0]/name":                     true,
		"groups[0].items[0]/name":            true,
		"groups[0].items[0].details[0]/name": true,
	}, got)
}

func TestValidateRequiresGroups(t *testing.T) {
	q := validQuote()
	q.Groups = nil
	var verrs ValidationErrors
	require.True(t, errors.As(Validate(q), &verrs))
	assert.Equal(t, QuotePath(), verrs[0].Path)
}

func TestAgencyFeeRateBoundsAreInclusive(t *testing.T) {
	q := validQuote()
	q.AgencyFeeRate = d("100")
	assert.NoError(t, Validate(q))
	q.AgencyFeeRate = d("0")
	assert.NoError(t, Validate(q))
}

func TestMutationsDeriveSortOrderWithoutReordering(t *testing.T) {
	q := validQuote()
	require.NoError(t, q.SetGroupSortOrder(0, 5))

	gi := q.AddGroup(Group{Name: "Travel"})
	assert.Equal(t, 6, q.Groups[gi].SortOrder)

	q.AddGroup(Group{Name: "Catering"})
	require.NoError(t, q.RemoveGroup(1))
	require.Len(t, q.Groups, 2)
	assert.Equal(t, 5, q.Groups[0].SortOrder)
	assert.Equal(t, 7, q.Groups[1].SortOrder)

	ii, err := q.AddItem(1, Item{Name: "Buffet"})
	require.NoError(t, err)
	di, err := q.AddDetail(1, ii, Detail{Name: "Plates", Quantity: d("1")})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Groups[1].Items[ii].Details[di].SortOrder)

	require.NoError(t, q.UpdateDetail(1, ii, di, Detail{Name: "Cutlery"}))
	assert.Equal(t, "Cutlery", q.Groups[1].Items[ii].Details[di].Name)
	assert.Equal(t, 1, q.Groups[1].Items[ii].Details[di].SortOrder)

	assert.ErrorIs(t, q.RemoveItem(4, 0), ErrIndexOutOfRange)
	assert.ErrorIs(t, q.RemoveDetail(1, ii, 3), ErrIndexOutOfRange)
}

func TestSortedGroupsIsStableAndNormalizeRenumbers(t *testing.T) {
	q := Quote{Groups: []Group{
		{Name: "b", SortOrder: 2},
		{Name: "a", SortOrder: 1},
		{Name: "c", SortOrder: 2},
	}}
	sorted := q.SortedGroups()
	assert.Equal(t, []string{"a", "b", "c"}, []string{sorted[0].Name, sorted[1].Name, sorted[2].Name})
	assert.Equal(t, "b", q.Groups[0].Name)

	q.Normalize()
	assert.Equal(t, "a", q.Groups[0].Name)
	assert.Equal(t, 3, q.Groups[2].SortOrder)
}

func TestCloneIsDeep(t *testing.T) {
	supplier := int64(9)
	q := validQuote()
	q.Groups[0].Items[0].Details[0].SupplierID = &supplier

	c := q.Clone()
	c.Groups[0].Items[0].Details[0].Name = "changed"
	*c.Groups[0].Items[0].Details[0].SupplierID = 10

	assert.Equal(t, "Truss", q.Groups[0].Items[0].Details[0].Name)
	assert.Equal(t, int64(9), *q.Groups[0].Items[0].Details[0].SupplierID)
}

func TestStructureOnlyKeepsNames(t *testing.T) {
	q := validQuote()
	q.StructureOnly()
	line := q.Groups[0].Items[0].Details[0]
	assert.Equal(t, "Truss", line.Name)
	assert.True(t, line.Quantity.IsZero())
	assert.True(t, line.Days.IsZero())
	assert.True(t, line.UnitPrice.IsZero())
	assert.True(t, line.CostPrice.IsZero())
}

func TestDetailAmountAndCost(t *testing.T) {
	line := Detail{Quantity: d("2"), Days: d("3"), UnitPrice: d("1000"), CostPrice: d("300")}
	assert.True(t, line.Amount().Equal(d("6000")))
	assert.True(t, line.Cost().Equal(d("600")))

	line.IsService = true
	assert.True(t, line.Amount().Equal(d("2000")))
	assert.True(t, line.Cost().Equal(d("600")))
}

func TestStatusLocked(t *testing.T) {
	assert.True(t, StatusAccepted.Locked())
	assert.False(t, StatusDraft.Locked())
	assert.False(t, Status("bogus").Valid())
}
