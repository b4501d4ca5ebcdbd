// Package mongo stores reconciliation run reports in MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/spei-ledger/internal/domain/reconciliation"
	"github.com/spei-ledger/internal/domain/transaction"
)

const (
	// ReportCollectionName is the name of the reconciliation report collection in MongoDB
	ReportCollectionName = "reconciliation_reports"
)

// ReportRepository implements the reconciliation.Repository interface for MongoDB
type ReportRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewReportRepository creates a new MongoDB reconciliation report repository
func NewReportRepository(logger *slog.Logger, db *mongo.Database) reconciliation.Repository {
	return &ReportRepository{
		db:     db,
		logger: logger,
	}
}

type itemErrorDocument struct {
	Direction   string `bson:"direction"`
	OrderID     string `bson:"order_id,omitempty"`
	TrackingKey string `bson:"tracking_key,omitempty"`
	Message     string `bson:"message"`
}

// reportDocument stores amounts as strings so no precision is lost to BSON doubles.
type reportDocument struct {
	RunID         string              `bson:"run_id"`
	RequestedBy   string              `bson:"requested_by"`
	Account       string              `bson:"account,omitempty"`
	WindowStart   time.Time           `bson:"window_start"`
	WindowEnd     time.Time           `bson:"window_end"`
	StartedAt     time.Time           `bson:"started_at"`
	FinishedAt    time.Time           `bson:"finished_at"`
	Inserted      int                 `bson:"inserted"`
	Updated       int                 `bson:"updated"`
	Unchanged     int                 `bson:"unchanged"`
	Errored       int                 `bson:"errored"`
	Errors        []itemErrorDocument `bson:"errors"`
	Unmatched     []string            `bson:"unmatched"`
	Unanswered    []string            `bson:"unanswered"`
	RemoteBalance *string             `bson:"remote_balance,omitempty"`
	LocalBalance  string              `bson:"local_balance"`
	Discrepancy   *string             `bson:"discrepancy,omitempty"`
	Significant   bool                `bson:"significant"`
}

func toDocument(s *reconciliation.Summary) reportDocument {
	doc := reportDocument{
		RunID:        s.RunID.String(),
		RequestedBy:  s.RequestedBy,
		Account:      s.Account,
		WindowStart:  s.WindowStart,
		WindowEnd:    s.WindowEnd,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		Inserted:     s.Inserted,
		Updated:      s.Updated,
		Unchanged:    s.Unchanged,
		Errored:      s.Errored,
		Errors:       make([]itemErrorDocument, 0, len(s.Errors)),
		Unmatched:    append([]string{}, s.Unmatched...),
		Unanswered:   append([]string{}, s.Unanswered...),
		LocalBalance: s.LocalBalance.String(),
		Significant:  s.Significant,
	}
	for _, e := range s.Errors {
		doc.Errors = append(doc.Errors, itemErrorDocument{
			Direction:   string(e.Direction),
			OrderID:     e.OrderID,
			TrackingKey: e.TrackingKey,
			Message:     e.Message,
		})
	}
	if s.RemoteBalance != nil {
		v := s.RemoteBalance.String()
		doc.RemoteBalance = &v
	}
	if s.Discrepancy != nil {
		v := s.Discrepancy.String()
		doc.Discrepancy = &v
	}
	return doc
}

func (d reportDocument) toSummary() (*reconciliation.Summary, error) {
	runID, err := uuid.Parse(d.RunID)
	if err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", d.RunID, err)
	}
	local, err := decimal.NewFromString(d.LocalBalance)
	if err != nil {
		return nil, fmt.Errorf("invalid local balance %q: %w", d.LocalBalance, err)
	}

	s := &reconciliation.Summary{
		RunID:        runID,
		RequestedBy:  d.RequestedBy,
		Account:      d.Account,
		WindowStart:  d.WindowStart,
		WindowEnd:    d.WindowEnd,
		StartedAt:    d.StartedAt,
		FinishedAt:   d.FinishedAt,
		Inserted:     d.Inserted,
		Updated:      d.Updated,
		Unchanged:    d.Unchanged,
		Errored:      d.Errored,
		Unmatched:    d.Unmatched,
		Unanswered:   d.Unanswered,
		LocalBalance: local,
		Significant:  d.Significant,
	}
	for _, e := range d.Errors {
		s.Errors = append(s.Errors, reconciliation.ItemError{
			Direction:   transaction.Type(e.Direction),
			OrderID:     e.OrderID,
			TrackingKey: e.TrackingKey,
			Message:     e.Message,
		})
	}
	if d.RemoteBalance != nil {
		v, err := decimal.NewFromString(*d.RemoteBalance)
		if err != nil {
			return nil, fmt.Errorf("invalid remote balance %q: %w", *d.RemoteBalance, err)
		}
		s.RemoteBalance = &v
	}
	if d.Discrepancy != nil {
		v, err := decimal.NewFromString(*d.Discrepancy)
		if err != nil {
			return nil, fmt.Errorf("invalid discrepancy %q: %w", *d.Discrepancy, err)
		}
		s.Discrepancy = &v
	}
	return s, nil
}

// Save stores a finished run. Saving the same run twice replaces the earlier report.
func (r *ReportRepository) Save(ctx context.Context, s *reconciliation.Summary) error {
	collection := r.db.Collection(ReportCollectionName)

	doc := toDocument(s)
	filter := bson.M{"run_id": doc.RunID}
	opts := options.Replace().SetUpsert(true)

	if _, err := collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		r.logger.Error("Failed to save reconciliation report",
			"run_id", doc.RunID,
			"error", err)
		return fmt.Errorf("failed to save reconciliation report: %w", err)
	}

	return nil
}

// GetByRunID retrieves a report by its run ID.
func (r *ReportRepository) GetByRunID(ctx context.Context, runID uuid.UUID) (*reconciliation.Summary, error) {
	collection := r.db.Collection(ReportCollectionName)

	var doc reportDocument
	err := collection.FindOne(ctx, bson.M{"run_id": runID.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, reconciliation.ErrReportNotFound{RunID: runID}
		}
		r.logger.Error("Failed to get reconciliation report",
			"run_id", runID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get reconciliation report: %w", err)
	}

	return doc.toSummary()
}

// List returns reports newest first.
func (r *ReportRepository) List(ctx context.Context, limit, offset int64) ([]*reconciliation.Summary, error) {
	collection := r.db.Collection(ReportCollectionName)

	opts := options.Find().
		SetSort(bson.M{"started_at": -1}).
		SetSkip(offset).
		SetLimit(limit)

	cursor, err := collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		r.logger.Error("Failed to list reconciliation reports", "error", err)
		return nil, fmt.Errorf("failed to list reconciliation reports: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []reportDocument
	if err := cursor.All(ctx, &docs); err != nil {
		r.logger.Error("Failed to decode reconciliation reports", "error", err)
		return nil, fmt.Errorf("failed to decode reconciliation reports: %w", err)
	}

	summaries := make([]*reconciliation.Summary, 0, len(docs))
	for _, doc := range docs {
		s, err := doc.toSummary()
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}
