package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quotedesk/quotedesk/internal/observability"
	"github.com/quotedesk/quotedesk/internal/platform/db"
	"github.com/quotedesk/quotedesk/internal/quotes/calc"
	"github.com/quotedesk/quotedesk/internal/quotes/snapshot"
	"github.com/quotedesk/quotedesk/internal/quotes/structure"
	"github.com/quotedesk/quotedesk/internal/shared"
)

// storedPlaces is the precision of quotes.total_amount.
const storedPlaces = 2

// Service runs the quote pipeline: snapshot, validate, calculate, persist.
type Service struct {
	repo      Repository
	snapshots *snapshot.Builder
	metrics   *observability.QuoteMetrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository, snapshots *snapshot.Builder, metrics *observability.QuoteMetrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, snapshots: snapshots, metrics: metrics, logger: logger, now: time.Now}
}

// Validate checks q against the structural rules without touching storage.
func (s *Service) Validate(q structure.Quote) error {
	return structure.Validate(q)
}

// Calculate validates and prices q. Master-data references are not resolved;
// call BuildSnapshot or Save for that.
func (s *Service) Calculate(q structure.Quote) (calc.Result, error) {
	v, err := structure.Check(q)
	if err != nil {
		s.metrics.ObserveCalculation(outcome(err))
		return calc.Result{}, err
	}
	res := calc.Calculate(v)
	s.metrics.ObserveCalculation(outcome(nil))
	return res, nil
}

// BuildSnapshot resolves refs in one batch per kind.
func (s *Service) BuildSnapshot(ctx context.Context, refs snapshot.Refs) (snapshot.SnapshotMap, error) {
	return s.snapshots.BuildMany(ctx, refs)
}

// Save persists q. A zero ID creates a new draft; otherwise q.Token must match
// the stored token and the stored quote must not be locked. A non-empty
// idempotencyKey makes a retried create return the first quote id.
func (s *Service) Save(ctx context.Context, q structure.Quote, actorID int64, idempotencyKey string) (int64, error) {
	op := "create"
	if q.ID != 0 {
		op = "update"
	}
	started := s.now()
	q = q.Clone()
	var (
		id  int64
		err error
	)
	if q.ID == 0 {
		snapshot.Anchor(&q, nil)
		id, err = s.create(ctx, q, actorID, idempotencyKey, "quote.create", nil)
	} else {
		id, err = s.update(ctx, q, actorID)
	}
	s.observe(op, started, id, err)
	return id, err
}

// Load reads the header and the three structure levels from one snapshot of
// the database and rebuilds the tree.
func (s *Service) Load(ctx context.Context, id int64) (*structure.Quote, error) {
	var out *structure.Quote
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		header, err := repo.GetHeader(ctx, id)
		if err != nil {
			return err
		}
		groups, err := repo.ListGroups(ctx, id)
		if err != nil {
			return err
		}
		items, err := repo.ListItems(ctx, id)
		if err != nil {
			return err
		}
		details, err := repo.ListDetails(ctx, id)
		if err != nil {
			return err
		}
		out, err = assemble(header, groups, items, details)
		return err
	})
	if err != nil {
		var ierr *IntegrityError
		if errors.As(err, &ierr) {
			s.logger.Error("quote integrity violated", slog.Int64("quote_id", id), slog.Any("error", err))
		}
		return nil, err
	}
	return out, nil
}

// Duplicate copies sourceID into a brand-new quote. Frozen snapshots travel
// with the copy; the source is never modified.
func (s *Service) Duplicate(ctx context.Context, sourceID int64, opts DuplicateOptions, actorID int64) (int64, error) {
	started := s.now()
	src, err := s.Load(ctx, sourceID)
	if err != nil {
		s.observe("duplicate", started, 0, err)
		return 0, err
	}

	c := src.Clone()
	c.ResetIdentity()
	c.Token = uuid.Nil
	c.IssueDate = time.Time{}
	if opts.Title != nil {
		c.Title = *opts.Title
	}
	if opts.CustomerID != nil {
		id := *opts.CustomerID
		c.CustomerID = &id
		c.CustomerName = ""
	}
	if opts.CustomerName != nil {
		c.CustomerName = *opts.CustomerName
		if opts.CustomerID == nil {
			c.CustomerID = nil
		}
	}
	if opts.StructureOnly {
		c.StructureOnly()
	}

	id, err := s.create(ctx, c, actorID, "", "quote.duplicate", map[string]any{
		"source_id":      sourceID,
		"structure_only": opts.StructureOnly,
	})
	s.observe("duplicate", started, id, err)
	return id, err
}

// Revise stores edited as a new version in the chain of sourceID. The new row
// gets version max+1 and points at the chain root; the source row is left
// untouched, which makes this the only way to change an accepted quote.
func (s *Service) Revise(ctx context.Context, sourceID int64, edited structure.Quote, actorID int64) (int64, error) {
	started := s.now()
	source, err := s.Load(ctx, sourceID)
	if err != nil {
		s.observe("revise", started, 0, err)
		return 0, err
	}
	q := edited.Clone()
	snapshot.Anchor(&q, source)
	q.ResetIdentity()

	v, res, err := s.prepare(ctx, &q)
	if err != nil {
		s.observe("revise", started, 0, err)
		return 0, err
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		src, err := repo.LockHeader(ctx, sourceID)
		if err != nil {
			return err
		}
		root := src.ID
		if src.ParentQuoteID != nil {
			root = *src.ParentQuoteID
			if _, err := repo.LockHeader(ctx, root); err != nil {
				return fmt.Errorf("lock revision root %d: %w", root, err)
			}
		}
		version, err := repo.NextVersion(ctx, root)
		if err != nil {
			return err
		}
		id, err = s.insert(ctx, repo, v, res, insertParams{
			number:  src.QuoteNumber,
			version: version,
			parent:  &root,
			actorID: actorID,
			action:  "quote.revise",
			meta:    map[string]any{"source_id": sourceID, "root_id": root},
		})
		return err
	})
	err = s.translate(err, sourceID)
	s.observe("revise", started, id, err)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ChangeStatus moves the quote along the status workflow. token must match
// the stored token; a new one is issued on success.
func (s *Service) ChangeStatus(ctx context.Context, id int64, to structure.Status, token uuid.UUID, actorID int64) error {
	started := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		cur, err := repo.LockHeader(ctx, id)
		if err != nil {
			return err
		}
		if cur.Token != token {
			return &ConcurrencyConflict{QuoteID: id}
		}
		if !CanTransition(cur.Status, to) {
			if cur.Status.Locked() {
				return &LockedStateError{QuoteID: id, Status: cur.Status}
			}
			return &InvalidTransitionError{From: cur.Status, To: to}
		}
		ok, err := repo.UpdateStatus(ctx, id, to, token, uuid.New())
		if err != nil {
			return err
		}
		if !ok {
			return &ConcurrencyConflict{QuoteID: id}
		}
		return repo.Audit(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "quote.status",
			Entity:   "quote",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"from": cur.Status, "to": to},
		})
	})
	err = s.translate(err, id)
	s.observe("status", started, id, err)
	return err
}

// History lists every version in the chain id belongs to, oldest first.
func (s *Service) History(ctx context.Context, id int64) ([]HistoryEntry, error) {
	header, err := s.repo.GetHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	root := header.ID
	if header.ParentQuoteID != nil {
		root = *header.ParentQuoteID
	}
	return s.repo.ListChain(ctx, root)
}

// Reconcile recalculates up to limit quotes after afterID and reports those
// whose stored total no longer matches.
func (s *Service) Reconcile(ctx context.Context, afterID int64, limit int) (DriftReport, error) {
	report := DriftReport{LastID: afterID}
	ids, err := s.repo.ListIDs(ctx, afterID, limit)
	if err != nil {
		return report, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.LastID = id
		q, err := s.Load(ctx, id)
		if errors.Is(err, ErrIntegrity) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return report, err
		}
		report.Checked++
		v, err := structure.Check(*q)
		if err != nil {
			s.logger.Warn("stored quote fails validation", slog.Int64("quote_id", id), slog.Any("error", err))
			continue
		}
		want := storedTotal(calc.Calculate(v))
		if !want.Equal(q.TotalAmount) {
			report.Drifted = append(report.Drifted, Drift{QuoteID: id, VATMode: q.VATMode, Stored: q.TotalAmount, Calculated: want})
			s.logger.Warn("quote total drift",
				slog.Int64("quote_id", id),
				slog.String("stored", q.TotalAmount.String()),
				slog.String("calculated", want.String()))
		}
	}
	return report, nil
}

// prepare resolves master-data snapshots into q, then validates it for
// storage and prices it.
func (s *Service) prepare(ctx context.Context, q *structure.Quote) (*structure.Validated, calc.Result, error) {
	if s.snapshots != nil {
		if err := s.snapshots.Resolve(ctx, q); err != nil {
			return nil, calc.Result{}, err
		}
	}
	v, err := structure.CheckForSave(*q)
	if err != nil {
		s.metrics.ObserveCalculation(outcome(err))
		return nil, calc.Result{}, err
	}
	res := calc.Calculate(v)
	s.metrics.ObserveCalculation(outcome(nil))
	return v, res, nil
}

// createAttempts bounds retries of a create that lost a race on the
// document_sequences row shared by every create in a month.
const createAttempts = 3

// create stores q as a new version-1 quote. Each attempt re-checks the
// idempotency key, so a retry after a concurrent create with the same key
// returns that quote's id.
func (s *Service) create(ctx context.Context, q structure.Quote, actorID int64, key, action string, meta map[string]any) (int64, error) {
	v, res, err := s.prepare(ctx, &q)
	if err != nil {
		return 0, err
	}

	var id int64
	for attempt := 1; ; attempt++ {
		id, err = s.createOnce(ctx, v, res, actorID, key, action, meta)
		retryable := db.IsSerializationFailure(err) || db.IsUniqueViolation(err)
		if !retryable || attempt == createAttempts {
			break
		}
		s.logger.Warn("quote create lost serialization race, retrying", slog.Int("attempt", attempt))
	}
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		existing, found, lerr := s.repo.FindIdempotent(ctx, key)
		if lerr == nil && found {
			return existing, nil
		}
	}
	if err != nil {
		return 0, fmt.Errorf("create quote: %w", err)
	}
	return id, nil
}

func (s *Service) createOnce(ctx context.Context, v *structure.Validated, res calc.Result, actorID int64, key, action string, meta map[string]any) (int64, error) {
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if key != "" {
			existing, found, err := repo.FindIdempotent(ctx, key)
			if err != nil {
				return err
			}
			if found {
				id = existing
				return nil
			}
		}
		var err error
		id, err = s.insert(ctx, repo, v, res, insertParams{version: 1, actorID: actorID, action: action, meta: meta})
		if err != nil {
			return err
		}
		if key != "" {
			return repo.RecordIdempotent(ctx, key, id)
		}
		return nil
	})
	return id, err
}

// update saves q in place. The stored quote is read first so a locked quote is
// rejected before any snapshot or validation work, and so only snapshots that
// are already stored stay frozen.
func (s *Service) update(ctx context.Context, q structure.Quote, actorID int64) (int64, error) {
	stored, err := s.Load(ctx, q.ID)
	if err != nil {
		return 0, err
	}
	if stored.Status.Locked() {
		return 0, &LockedStateError{QuoteID: stored.ID, Status: stored.Status}
	}
	snapshot.Anchor(&q, stored)

	v, res, err := s.prepare(ctx, &q)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		id, err = s.replace(ctx, repo, v, res, actorID)
		return err
	})
	if err = s.translate(err, q.ID); err != nil {
		return 0, err
	}
	return id, nil
}

type insertParams struct {
	number  string
	version int
	parent  *int64
	actorID int64
	action  string
	meta    map[string]any
}

func (s *Service) insert(ctx context.Context, repo Repository, v *structure.Validated, res calc.Result, p insertParams) (int64, error) {
	q := v.Quote()
	q.ID = 0
	q.Status = structure.StatusDraft
	q.Version = p.version
	q.ParentQuoteID = p.parent
	q.Token = uuid.New()
	q.CreatedBy = p.actorID
	q.TotalAmount = storedTotal(res)
	if q.IssueDate.IsZero() {
		q.IssueDate = s.now().UTC().Truncate(24 * time.Hour)
	}
	q.QuoteNumber = p.number
	if q.QuoteNumber == "" {
		number, err := repo.GenerateNumber(ctx, q.IssueDate)
		if err != nil {
			return 0, err
		}
		q.QuoteNumber = number
	}

	id, err := repo.InsertHeader(ctx, q)
	if err != nil {
		return 0, err
	}
	if err := writeStructure(ctx, repo, id, q); err != nil {
		return 0, err
	}

	meta := map[string]any{"quote_number": q.QuoteNumber, "version": q.Version, "total_amount": q.TotalAmount.String()}
	for k, v := range p.meta {
		meta[k] = v
	}
	if err := repo.Audit(ctx, shared.AuditLog{
		ActorID:  p.actorID,
		Action:   p.action,
		Entity:   "quote",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		return 0, fmt.Errorf("audit %s: %w", p.action, err)
	}
	return id, nil
}

// replace swaps the header and structure of an unlocked quote whose token
// still matches.
func (s *Service) replace(ctx context.Context, repo Repository, v *structure.Validated, res calc.Result, actorID int64) (int64, error) {
	q := v.Quote()
	cur, err := repo.LockHeader(ctx, q.ID)
	if err != nil {
		return 0, err
	}
	if cur.Status.Locked() {
		return 0, &LockedStateError{QuoteID: cur.ID, Status: cur.Status}
	}
	if cur.Token != q.Token {
		return 0, &ConcurrencyConflict{QuoteID: cur.ID}
	}

	next := cur
	next.Title = q.Title
	next.CustomerID = q.CustomerID
	next.CustomerName = q.CustomerName
	if !q.IssueDate.IsZero() {
		next.IssueDate = q.IssueDate
	}
	next.VATMode = q.VATMode
	next.DiscountAmount = q.DiscountAmount
	next.AgencyFeeRate = q.AgencyFeeRate
	next.TotalAmount = storedTotal(res)
	next.Token = uuid.New()

	ok, err := repo.UpdateHeader(ctx, next, cur.Token)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &ConcurrencyConflict{QuoteID: cur.ID}
	}
	if err := repo.DeleteStructure(ctx, cur.ID); err != nil {
		return 0, err
	}
	if err := writeStructure(ctx, repo, cur.ID, q); err != nil {
		return 0, err
	}
	if err := repo.Audit(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "quote.update",
		Entity:   "quote",
		EntityID: strconv.FormatInt(cur.ID, 10),
		Meta: map[string]any{
			"previous_total": cur.TotalAmount.String(),
			"total_amount":   next.TotalAmount.String(),
		},
	}); err != nil {
		return 0, fmt.Errorf("audit quote.update: %w", err)
	}
	return cur.ID, nil
}

// writeStructure inserts groups, then items, then details, each level in
// sort order so ties keep the caller's order on reload.
func writeStructure(ctx context.Context, repo Repository, quoteID int64, q structure.Quote) error {
	for _, g := range q.SortedGroups() {
		groupID, err := repo.InsertGroup(ctx, quoteID, g)
		if err != nil {
			return err
		}
		for _, it := range g.SortedItems() {
			itemID, err := repo.InsertItem(ctx, quoteID, groupID, it)
			if err != nil {
				return err
			}
			for _, d := range it.SortedDetails() {
				if _, err := repo.InsertDetail(ctx, quoteID, itemID, d); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// translate turns storage-level races on an existing quote into
// ConcurrencyConflict. Creates never pass through here.
func (s *Service) translate(err error, quoteID int64) error {
	if err == nil {
		return nil
	}
	if db.IsSerializationFailure(err) || db.IsUniqueViolation(err) {
		return &ConcurrencyConflict{QuoteID: quoteID}
	}
	return err
}

func (s *Service) observe(op string, started time.Time, id int64, err error) {
	code := outcome(err)
	s.metrics.ObserveWrite(op, code, started)
	switch {
	case err == nil:
		s.logger.Info("quote written", slog.String("operation", op), slog.Int64("quote_id", id))
	case code == "error" || code == CodeIntegrity || code == calc.CodeArithmetic:
		s.logger.Error("quote write failed", slog.String("operation", op), slog.Any("error", err))
	default:
		s.logger.Warn("quote write rejected", slog.String("operation", op), slog.String("code", code), slog.Any("error", err))
	}
}

func storedTotal(res calc.Result) decimal.Decimal {
	return res.FinalTotal.Round(storedPlaces)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "error"
}
