package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gympulse/gympulse-api/internal/models"
	"github.com/gympulse/gympulse-api/internal/repository"
	"github.com/gympulse/gympulse-api/internal/worker"
	"github.com/gympulse/gympulse-api/pkg/queue"
)

// errExitBeforeEntry marks a data-quality violation: an exit event stamped
// earlier than the open visit's entry. Discarded, never retried.
var errExitBeforeEntry = errors.New("exit event precedes open visit entry")

// Entry replays within this window of an existing open visit are treated as
// broker redeliveries and ignored, instead of toggling the visit shut at
// zero minutes.
const duplicateEntryWindow = time.Minute

type visitStore interface {
	RunInTx(ctx context.Context, fn func(*repository.VisitTx) error) error
}

// VisitProcessor consumes checkin events and drives the per-student visit
// state machine.
//
// Policy for an entry while a visit is already open: toggle. The open visit
// is closed at the new event's timestamp and a fresh open visit starts. This
// matches the turnstile reality of a missed checkout and keeps open visits
// from accumulating without bound.
type VisitProcessor struct {
	visits visitStore
	cache  *CacheService
	logger *zap.Logger
}

// NewVisitProcessor constructs the consumer.
func NewVisitProcessor(visits visitStore, cache *CacheService, logger *zap.Logger) *VisitProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisitProcessor{visits: visits, cache: cache, logger: logger}
}

// HandleCheckin processes one entry/exit event from the checkin stream.
func (p *VisitProcessor) HandleCheckin(ctx context.Context, msg queue.Message) worker.Result {
	var event models.CheckinEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		p.logger.Warn("malformed checkin payload, discarding",
			zap.String("message_id", msg.ID), zap.Error(err))
		return worker.ResultDiscard
	}
	if !event.Valid() {
		p.logger.Warn("checkin event missing required fields, discarding",
			zap.String("message_id", msg.ID),
			zap.Int64("student_id", event.StudentID),
			zap.String("type", event.Type))
		return worker.ResultDiscard
	}

	receivedAt := time.Now().UTC()
	err := p.visits.RunInTx(ctx, func(tx *repository.VisitTx) error {
		return p.applyEvent(ctx, tx, event, receivedAt)
	})
	result := p.classify(msg.ID, event.StudentID, err)
	if result == worker.ResultAck {
		p.invalidateScore(ctx, event.StudentID)
	}
	return result
}

// HandleBatch processes a batch of checkins atomically: the whole batch
// commits in one transaction or none of it does, so a redelivered batch
// replays cleanly from the start.
func (p *VisitProcessor) HandleBatch(ctx context.Context, msg queue.Message) worker.Result {
	var batch models.BatchCheckinEvent
	if err := json.Unmarshal(msg.Body, &batch); err != nil {
		p.logger.Warn("malformed batch payload, discarding",
			zap.String("message_id", msg.ID), zap.Error(err))
		return worker.ResultDiscard
	}
	if len(batch.Checkins) == 0 {
		p.logger.Warn("batch message without checkins, discarding", zap.String("message_id", msg.ID))
		return worker.ResultDiscard
	}

	receivedAt := time.Now().UTC()
	touched := make([]int64, 0, len(batch.Checkins))
	err := p.visits.RunInTx(ctx, func(tx *repository.VisitTx) error {
		for _, event := range batch.Checkins {
			if !event.Valid() {
				// A bad item does not poison the rest of the batch.
				p.logger.Warn("skipping invalid checkin in batch",
					zap.String("message_id", msg.ID),
					zap.Int64("student_id", event.StudentID),
					zap.String("type", event.Type))
				continue
			}
			if err := p.applyEvent(ctx, tx, event, receivedAt); err != nil {
				if errors.Is(err, errExitBeforeEntry) {
					p.logger.Warn("skipping exit-before-entry in batch",
						zap.String("message_id", msg.ID),
						zap.Int64("student_id", event.StudentID))
					continue
				}
				return err
			}
			touched = append(touched, event.StudentID)
		}
		return nil
	})
	result := p.classify(msg.ID, 0, err)
	if result == worker.ResultAck {
		for _, studentID := range touched {
			p.invalidateScore(ctx, studentID)
		}
		p.logger.Info("batch processed",
			zap.String("message_id", msg.ID),
			zap.Int("checkins", len(batch.Checkins)),
			zap.Int("applied", len(touched)))
	}
	return result
}

// applyEvent runs one state-machine transition inside the caller's
// transaction. Transitions are idempotent under redelivery: a replayed entry
// finds the open visit it created and leaves it alone, a replayed exit finds
// no open visit and no-ops.
func (p *VisitProcessor) applyEvent(ctx context.Context, tx *repository.VisitTx, event models.CheckinEvent, receivedAt time.Time) error {
	at := event.Time(receivedAt)
	open, err := tx.FindOpen(ctx, event.StudentID)
	if err != nil {
		return err
	}

	switch strings.ToLower(event.Type) {
	case models.EventTypeEntry:
		if open != nil {
			delta := at.Sub(open.EntryTime)
			if delta < 0 {
				delta = -delta
			}
			if delta < duplicateEntryWindow {
				p.logger.Debug("duplicate entry replay, ignoring",
					zap.Int64("student_id", event.StudentID),
					zap.String("open_visit_id", open.ID))
				return nil
			}
			duration := models.DurationBetween(open.EntryTime, at)
			if err := tx.Close(ctx, open.ID, at, duration); err != nil {
				return err
			}
		}
		return tx.Insert(ctx, &models.Visit{StudentID: event.StudentID, EntryTime: at})

	case models.EventTypeExit:
		if open == nil {
			// Student was never checked in; nothing to close.
			p.logger.Info("exit without open visit, ignoring",
				zap.Int64("student_id", event.StudentID))
			return nil
		}
		if at.Before(open.EntryTime) {
			return errExitBeforeEntry
		}
		return tx.Close(ctx, open.ID, at, models.DurationBetween(open.EntryTime, at))
	}
	return nil
}

func (p *VisitProcessor) classify(messageID string, studentID int64, err error) worker.Result {
	switch {
	case err == nil:
		return worker.ResultAck
	case errors.Is(err, errExitBeforeEntry):
		p.logger.Warn("exit precedes entry, discarding as data-quality violation",
			zap.String("message_id", messageID),
			zap.Int64("student_id", studentID))
		return worker.ResultDiscard
	case errors.Is(err, repository.ErrOpenVisitExists):
		// A concurrent consumer won the open-visit race; redelivery will
		// find the existing open visit and apply idempotently.
		p.logger.Warn("open visit race lost, retrying",
			zap.String("message_id", messageID),
			zap.Int64("student_id", studentID))
		return worker.ResultRetry
	default:
		p.logger.Error("checkin processing failed, retrying",
			zap.String("message_id", messageID),
			zap.Int64("student_id", studentID),
			zap.Error(err))
		return worker.ResultRetry
	}
}

func (p *VisitProcessor) invalidateScore(ctx context.Context, studentID int64) {
	if err := p.cache.Delete(ctx, ChurnScoreCacheKey(studentID)); err != nil {
		p.logger.Warn("failed to invalidate churn score cache",
			zap.Int64("student_id", studentID), zap.Error(err))
	}
}
