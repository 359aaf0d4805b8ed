package quotes

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotedesk/quotedesk/internal/observability"
	"github.com/quotedesk/quotedesk/internal/platform/db"
	"github.com/quotedesk/quotedesk/internal/quotes/snapshot"
	"github.com/quotedesk/quotedesk/internal/quotes/structure"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newTestService(t *testing.T) (*Service, *mockRepository, *mockLookup) {
	t.Helper()
	return newTestServiceWith(t, prometheus.NewRegistry())
}

func newTestServiceWith(t *testing.T, registerer prometheus.Registerer) (*Service, *mockRepository, *mockLookup) {
	t.Helper()
	repo := newMockRepository()
	lookup := newMockLookup()
	supplier := int64(7)
	lookup.items[1] = snapshot.MasterItem{
		ID: 1, Name: "Truss 3m", Unit: "ea",
		UnitPrice: dec("1000"), CostPrice: dec("600"), SupplierID: &supplier,
	}
	lookup.suppliers[7] = snapshot.Supplier{ID: 7, Name: "Rig Co"}
	lookup.customers[3] = "Globex"
	metrics := observability.NewQuoteMetrics(registerer)
	return NewService(repo, snapshot.NewBuilder(lookup), metrics, nil), repo, lookup
}

// sampleQuote prices to 2500 net, 2750 with exclusive VAT.
func sampleQuote() structure.Quote {
	master := int64(1)
	return structure.Quote{
		Title:          "Launch",
		CustomerName:   "Acme",
		VATMode:        structure.VATExclusive,
		AgencyFeeRate:  decimal.Zero,
		DiscountAmount: decimal.Zero,
		Groups: []structure.Group{{
			Name: "Stage", SortOrder: 1, IncludeInFee: true,
			Items: []structure.Item{{
				Name: "Rig", SortOrder: 1, IncludeInFee: true,
				Details: []structure.Detail{
					{MasterItemID: &master, Quantity: dec("2"), Days: dec("1"), SortOrder: 1},
					{Name: "Crew meal", Quantity: dec("1"), Days: dec("1"), UnitPrice: dec("500"), SortOrder: 2},
				},
			}},
		}},
	}
}

func mustCreate(t *testing.T, svc *Service) int64 {
	t.Helper()
	id, err := svc.Save(context.Background(), sampleQuote(), 1, "")
	require.NoError(t, err)
	return id
}

func moveTo(t *testing.T, svc *Service, repo *mockRepository, id int64, statuses ...structure.Status) {
	t.Helper()
	for _, s := range statuses {
		h, err := repo.GetHeader(context.Background(), id)
		require.NoError(t, err)
		require.NoError(t, svc.ChangeStatus(context.Background(), id, s, h.Token, 1))
	}
}

func TestSaveCreatesDraftWithFrozenSnapshot(t *testing.T) {
	svc, repo, _ := newTestService(t)
	id := mustCreate(t, svc)

	q, err := svc.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, structure.StatusDraft, q.Status)
	assert.Equal(t, 1, q.Version)
	assert.Regexp(t, regexp.MustCompile(`^Q-\d{4}-0001$`), q.QuoteNumber)
	assert.True(t, dec("2750").Equal(q.TotalAmount), q.TotalAmount.String())
	assert.NotEqual(t, uuid.Nil, q.Token)

	line := q.Groups[0].Items[0].Details[0]
	assert.Equal(t, "Truss 3m", line.Name)
	assert.True(t, dec("1000").Equal(line.UnitPrice))
	assert.Equal(t, "Rig Co", line.SupplierName)
	require.NotNil(t, line.SnapshotAt)
	assert.Equal(t, "Crew meal", q.Groups[0].Items[0].Details[1].Name)
	assert.Nil(t, q.Groups[0].Items[0].Details[1].SnapshotAt)

	assert.Equal(t, []string{"quote.create"}, repo.actions())
}

func TestSnapshotSurvivesMasterDataChange(t *testing.T) {
	svc, _, lookup := newTestService(t)
	id := mustCreate(t, svc)

	item := lookup.items[1]
	item.UnitPrice = dec("5000")
	item.Name = "Truss 3m (new)"
	lookup.items[1] = item

	q, err := svc.Load(context.Background(), id)
	require.NoError(t, err)
	q.Title = "Launch v2"
	_, err = svc.Save(context.Background(), *q, 1, "")
	require.NoError(t, err)

	reloaded, err := svc.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Launch v2", reloaded.Title)
	assert.Equal(t, "Truss 3m", reloaded.Groups[0].Items[0].Details[0].Name)
	assert.True(t, dec("2750").Equal(reloaded.TotalAmount))
}

func TestSaveRejectsLockedQuote(t *testing.T) {
	svc, repo, _ := newTestService(t)
	id := mustCreate(t, svc)
	moveTo(t, svc, repo, id, structure.StatusSent, structure.StatusAccepted)

	q, err := svc.Load(context.Background(), id)
	require.NoError(t, err)
	q.Title = "changed"
	_, err = svc.Save(context.Background(), *q, 1, "")

	var locked *LockedStateError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, structure.StatusAccepted, locked.Status)
	assert.ErrorIs(t, err, ErrLocked)

	stored, err := repo.GetHeader(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Launch", stored.Title)
}

func TestReviseAppendsVersionAndLeavesSourceUntouched(t *testing.T) {
	svc, repo, _ := newTestService(t)
	root := mustCreate(t, svc)
	moveTo(t, svc, repo, root, structure.StatusSent, structure.StatusAccepted)
	before, err := repo.GetHeader(context.Background(), root)
	require.NoError(t, err)

	src, err := svc.Load(context.Background(), root)
	require.NoError(t, err)
	src.Groups[0].Items[0].Details[1].Quantity = dec("3")
	rev, err := svc.Revise(context.Background(), root, *src, 2)
	require.NoError(t, err)

	revised, err := svc.Load(context.Background(), rev)
	require.NoError(t, err)
	assert.Equal(t, 2, revised.Version)
	require.NotNil(t, revised.ParentQuoteID)
	assert.Equal(t, root, *revised.ParentQuoteID)
	assert.Equal(t, before.QuoteNumber, revised.QuoteNumber)
	assert.Equal(t, structure.StatusDraft, revised.Status)
	assert.True(t, dec("3850").Equal(revised.TotalAmount), revised.TotalAmount.String())

	after, err := repo.GetHeader(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	third, err := svc.Revise(context.Background(), rev, *revised, 2)
	require.NoError(t, err)
	h, err := repo.GetHeader(context.Background(), third)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Version)
	assert.Equal(t, root, *h.ParentQuoteID)

	history, err := svc.History(context.Background(), rev)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{history[0].Version, history[1].Version, history[2].Version})
}

func TestSaveWithStaleTokenConflicts(t *testing.T) {
	svc, repo, _ := newTestService(t)
	id := mustCreate(t, svc)

	a, err := svc.Load(context.Background(), id)
	require.NoError(t, err)
	b, err := svc.Load(context.Background(), id)
	require.NoError(t, err)

	a.Title = "first"
	_, err = svc.Save(context.Background(), *a, 1, "")
	require.NoError(t, err)

	b.Title = "second"
	_, err = svc.Save(context.Background(), *b, 1, "")
	var conflict *ConcurrencyConflict
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, CodeConcurrencyConflict, conflict.Code())

	stored, _ := repo.GetHeader(context.Background(), id)
	assert.Equal(t, "first", stored.Title)
}

func TestSaveLosesRaceInsideTransaction(t *testing.T) {
	svc, repo, _ := newTestService(t)
	id := mustCreate(t, svc)
	q, err := svc.Load(context.Background(), id)
	require.NoError(t, err)

	repo.beforeUpdate = func(m *mockRepository) {
		h := m.state.headers[id]
		h.Token = uuid.New()
		m.state.headers[id] = h
	}
	_, err = svc.Save(context.Background(), *q, 1, "")
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestSaveValidationGateWritesNothing(t *testing.T) {
	svc, repo, _ := newTestService(t)
	q := sampleQuote()
	q.AddGroup(structure.Group{Name: "Empty"})

	_, err := svc.Save(context.Background(), q, 1, "")
	var verrs structure.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, structure.GroupPath(1), verrs[0].Path)
	assert.Empty(t, repo.state.headers)
	assert.Empty(t, repo.state.audits)
}

func TestSaveRollsBackPartialWrites(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.insertDetailErr = errors.New("disk full")

	_, err := svc.Save(context.Background(), sampleQuote(), 1, "")
	require.Error(t, err)
	assert.Empty(t, repo.state.headers)
	assert.Empty(t, repo.state.groups)
	assert.Empty(t, repo.state.sequences)
}

func TestSnapshotUnresolvedFailsClosed(t *testing.T) {
	svc, repo, _ := newTestService(t)
	q := sampleQuote()
	missing := int64(99)
	q.Groups[0].Items[0].Details[0].MasterItemID = &missing

	_, err := svc.Save(context.Background(), q, 1, "")
	assert.ErrorIs(t, err, snapshot.ErrUnresolved)
	assert.Empty(t, repo.state.headers)
}

func TestSaveIsIdempotentPerKey(t *testing.T) {
	svc, repo, _ := newTestService(t)
	first, err := svc.Save(context.Background(), sampleQuote(), 1, "req-1")
	require.NoError(t, err)
	second, err := svc.Save(context.Background(), sampleQuote(), 1, "req-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, repo.state.headers, 1)

	other, err := svc.Save(context.Background(), sampleQuote(), 1, "req-2")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestDuplicateStructureOnly(t *testing.T) {
	svc, repo, _ := newTestService(t)
	src := mustCreate(t, svc)
	title := "Copy"

	id, err := svc.Duplicate(context.Background(), src, DuplicateOptions{Title: &title, StructureOnly: true}, 1)
	require.NoError(t, err)
	require.NotEqual(t, src, id)

	dup, err := svc.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Copy", dup.Title)
	assert.Regexp(t, `-0002$`, dup.QuoteNumber)
	assert.Equal(t, 1, dup.Version)
	assert.Nil(t, dup.ParentQuoteID)
	line := dup.Groups[0].Items[0].Details[0]
	assert.Equal(t, "Truss 3m", line.Name)
	assert.True(t, line.UnitPrice.IsZero())
	assert.True(t, line.Quantity.IsZero())
	assert.True(t, dup.TotalAmount.IsZero())

	orig, err := svc.Load(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, dec("2750").Equal(orig.TotalAmount))
	assert.Contains(t, repo.actions(), "quote.duplicate")
}

func TestDuplicateWithNewCustomerResolvesName(t *testing.T) {
	svc, _, _ := newTestService(t)
	src := mustCreate(t, svc)
	customer := int64(3)

	id, err := svc.Duplicate(context.Background(), src, DuplicateOptions{CustomerID: &customer}, 1)
	require.NoError(t, err)
	dup, err := svc.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Globex", dup.CustomerName)
	assert.True(t, dec("2750").Equal(dup.TotalAmount))
}

func TestChangeStatusWorkflow(t *testing.T) {
	svc, repo, _ := newTestService(t)
	id := mustCreate(t, svc)
	h, _ := repo.GetHeader(context.Background(), id)

	err := svc.ChangeStatus(context.Background(), id, structure.StatusAccepted, h.Token, 1)
	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, structure.StatusDraft, invalid.From)

	err = svc.ChangeStatus(context.Background(), id, structure.StatusSent, uuid.New(), 1)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	moveTo(t, svc, repo, id, structure.StatusSent, structure.StatusRejected, structure.StatusDraft, structure.StatusCancelled)
	h, _ = repo.GetHeader(context.Background(), id)
	assert.Equal(t, structure.StatusCancelled, h.Status)
	err = svc.ChangeStatus(context.Background(), id, structure.StatusDraft, h.Token, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	accepted := mustCreate(t, svc)
	moveTo(t, svc, repo, accepted, structure.StatusSent, structure.StatusAccepted)
	h, _ = repo.GetHeader(context.Background(), accepted)
	err = svc.ChangeStatus(context.Background(), accepted, structure.StatusDraft, h.Token, 1)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestReconcileReportsDrift(t *testing.T) {
	svc, repo, _ := newTestService(t)
	clean := mustCreate(t, svc)
	drifted := mustCreate(t, svc)
	repo.setTotal(drifted, "2749.99")

	report, err := svc.Reconcile(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Drifted, 1)
	assert.Equal(t, drifted, report.Drifted[0].QuoteID)
	assert.True(t, dec("2750").Equal(report.Drifted[0].Calculated))
	assert.Equal(t, drifted, report.LastID)

	report, err = svc.Reconcile(context.Background(), clean, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
}

func TestCalculateDoesNotResolveOrPersist(t *testing.T) {
	svc, repo, _ := newTestService(t)
	q := sampleQuote()
	q.Groups[0].Items[0].Details[0].MasterItemID = nil
	q.Groups[0].Items[0].Details[0].Name = "Manual"

	res, err := svc.Calculate(q)
	require.NoError(t, err)
	assert.True(t, dec("550").Equal(res.FinalTotal))
	assert.Empty(t, repo.state.headers)

	_, err = svc.Calculate(structure.Quote{})
	assert.ErrorIs(t, err, structure.ErrValidation)
}

func TestCalculatePricesQuoteWithoutNamesOrCustomer(t *testing.T) {
	svc, repo, _ := newTestService(t)
	q := structure.Quote{
		VATMode: structure.VATExclusive,
		Groups: []structure.Group{{Items: []structure.Item{{Details: []structure.Detail{{
			Quantity: dec("1"), Days: dec("1"), UnitPrice: dec("100000"),
		}}}}}},
	}
	require.NoError(t, svc.Validate(q))
	res, err := svc.Calculate(q)
	require.NoError(t, err)
	assert.True(t, dec("110000").Equal(res.FinalTotal), res.FinalTotal.String())

	_, err = svc.Save(context.Background(), q, 1, "")
	assert.ErrorIs(t, err, structure.ErrValidation)
	assert.Empty(t, repo.state.headers)
}

func TestSaveIgnoresClientSnapshotClaims(t *testing.T) {
	svc, repo, _ := newTestService(t)
	claimed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	missing := int64(999)

	q := sampleQuote()
	q.Groups[0].Items[0].Details[0].MasterItemID = &missing
	q.Groups[0].Items[0].Details[0].SnapshotAt = &claimed
	_, err := svc.Save(context.Background(), q, 1, "")
	var rerr *snapshot.ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, missing, rerr.ID)
	assert.Empty(t, repo.state.headers)

	id := mustCreate(t, svc)
	stored, err := svc.Load(context.Background(), id)
	require.NoError(t, err)
	meal := &stored.Groups[0].Items[0].Details[1]
	meal.MasterItemID = &missing
	meal.SnapshotAt = &claimed
	_, err = svc.Save(context.Background(), *stored, 1, "")
	assert.ErrorIs(t, err, snapshot.ErrUnresolved)

	_, err = svc.Revise(context.Background(), id, *stored, 1)
	assert.ErrorIs(t, err, snapshot.ErrUnresolved)
}

func TestSaveResolvesCustomerNameFromReference(t *testing.T) {
	svc, _, _ := newTestService(t)
	q := sampleQuote()
	customer := int64(3)
	q.CustomerID = &customer
	q.CustomerName = "Typed by client"

	id, err := svc.Save(context.Background(), q, 1, "")
	require.NoError(t, err)
	loaded, err := svc.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Globex", loaded.CustomerName)
}

func TestSnapshotSurvivesMasterDeletion(t *testing.T) {
	svc, repo, lookup := newTestService(t)
	id := mustCreate(t, svc)

	delete(lookup.items, 1)
	delete(lookup.suppliers, 7)
	repo.clearReferences()

	q, err := svc.Load(context.Background(), id)
	require.NoError(t, err)
	line := q.Groups[0].Items[0].Details[0]
	assert.Nil(t, line.MasterItemID)
	assert.Equal(t, "Truss 3m", line.Name)
	assert.Equal(t, "Rig Co", line.SupplierName)
	assert.True(t, dec("1000").Equal(line.UnitPrice))
	require.NotNil(t, line.SnapshotAt)

	q.Title = "after cleanup"
	_, err = svc.Save(context.Background(), *q, 1, "")
	require.NoError(t, err)
	reloaded, err := svc.Load(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, dec("2750").Equal(reloaded.TotalAmount))
}

func serializationFailure() error {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
}

func TestCreateRetriesSerializationFailure(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.insertHeaderErrs = []error{serializationFailure()}

	id, err := svc.Save(context.Background(), sampleQuote(), 1, "")
	require.NoError(t, err)
	assert.Len(t, repo.state.headers, 1)
	assert.Regexp(t, `-0001$`, repo.state.headers[id].QuoteNumber)
}

func TestCreateRetryReturnsConcurrentIdempotentQuote(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.insertHeaderErrs = []error{serializationFailure()}
	repo.onRollback = func(st *mockState) {
		st.headers[77] = structure.Quote{ID: 77, QuoteNumber: "Q-0000-0001", Version: 1}
		st.idempotency["req-9"] = 77
	}

	id, err := svc.Save(context.Background(), sampleQuote(), 1, "req-9")
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
	assert.Len(t, repo.state.headers, 1)
}

func TestCreateGivesUpAfterBoundedRetries(t *testing.T) {
	svc, repo, _ := newTestService(t)
	for i := 0; i <= createAttempts; i++ {
		repo.insertHeaderErrs = append(repo.insertHeaderErrs, serializationFailure())
	}

	_, err := svc.Save(context.Background(), sampleQuote(), 1, "")
	require.Error(t, err)
	assert.Len(t, repo.insertHeaderErrs, 1, "one queued failure left unconsumed")
	assert.True(t, db.IsSerializationFailure(err))
	var conflict *ConcurrencyConflict
	assert.False(t, errors.As(err, &conflict))
	assert.Empty(t, repo.state.headers)
}

func TestSaveLockedQuoteReportsLockFirst(t *testing.T) {
	svc, repo, _ := newTestService(t)
	id := mustCreate(t, svc)
	moveTo(t, svc, repo, id, structure.StatusSent, structure.StatusAccepted)

	q, err := svc.Load(context.Background(), id)
	require.NoError(t, err)
	q.Groups = nil
	missing := int64(999)
	q.CustomerID = &missing
	_, err = svc.Save(context.Background(), *q, 1, "")
	assert.ErrorIs(t, err, ErrLocked)
}
