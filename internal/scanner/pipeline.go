package scanner

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"realtime-service/internal/models"
	"realtime-service/internal/observability"
	"realtime-service/internal/repositories"
	"realtime-service/internal/snowflake"
	"realtime-service/internal/storage"
)

// Pipeline claims uploaded attachments, streams their bytes through the
// inspection service and records the verdict. Crash recovery is structural:
// the stuck-row sweep reverts abandoned claims before each claim pass.
type Pipeline struct {
	repo           repositories.AttachmentRepository
	storage        storage.ObjectStorage
	scanner        Scanner
	idGen          *snowflake.Generator
	log            *zap.SugaredLogger
	interval       time.Duration
	batchSize      int
	stuckThreshold time.Duration
}

// NewPipeline constructs a Pipeline.
func NewPipeline(repo repositories.AttachmentRepository, st storage.ObjectStorage, sc Scanner, idGen *snowflake.Generator, log *zap.SugaredLogger, interval time.Duration, batchSize int, stuckThreshold time.Duration) *Pipeline {
	return &Pipeline{
		repo:           repo,
		storage:        st,
		scanner:        sc,
		idGen:          idGen,
		log:            log,
		interval:       interval,
		batchSize:      batchSize,
		stuckThreshold: stuckThreshold,
	}
}

// Run executes scan cycles until ctx is done. Cycle errors are contained and
// logged; the loop never terminates on a failed cycle.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Cycle(ctx); err != nil {
				p.log.Errorw("scan cycle failed", "err", err)
			}
		}
	}
}

// Cycle reverts stuck rows, claims a batch and scans each claimed attachment.
// The revert must run first so stuck rows become eligible for this claim.
func (p *Pipeline) Cycle(ctx context.Context) error {
	reverted, err := p.repo.RevertStuck(ctx, p.stuckThreshold)
	if err != nil {
		return err
	}
	if reverted > 0 {
		p.log.Warnw("reverted stuck scans", "count", reverted)
	}

	claimed, err := p.repo.ClaimForScan(ctx, p.batchSize)
	if err != nil {
		return err
	}

	for i := range claimed {
		p.scanOne(ctx, &claimed[i])
	}
	return nil
}

// scanOne processes a single claimed attachment. Any transient failure reverts
// the row to uploaded for a later retry; a failed scan is never treated as an
// infection.
func (p *Pipeline) scanOne(ctx context.Context, att *models.Attachment) {
	stream, err := p.storage.GetObjectStream(ctx, att.ObjectKey)
	if err != nil {
		p.log.Errorw("open object stream failed", "attachment_id", att.ID, "err", err)
		p.release(ctx, att.ID)
		observability.IncScanResult("error")
		return
	}

	result, err := p.scanner.Scan(ctx, stream)
	stream.Close()
	if err != nil {
		p.log.Errorw("scan failed", "attachment_id", att.ID, "err", err)
		p.release(ctx, att.ID)
		observability.IncScanResult("error")
		return
	}

	if result.Clean {
		if err := p.repo.FinishScan(ctx, att.ID, models.AttachmentScanned, p.scanEvent(att, models.EventAttachmentScanned)); err != nil {
			p.log.Errorw("mark scanned failed", "attachment_id", att.ID, "err", err)
			return
		}
		observability.IncScanResult("clean")
		return
	}

	// Infected: remove the bytes first, tolerating an already-gone object,
	// then record the terminal verdict.
	if err := p.storage.DeleteObject(ctx, att.ObjectKey); err != nil {
		p.log.Warnw("delete infected object failed", "attachment_id", att.ID, "err", err)
	}
	if err := p.repo.FinishScan(ctx, att.ID, models.AttachmentBlocked, p.scanEvent(att, models.EventAttachmentBlocked)); err != nil {
		p.log.Errorw("mark blocked failed", "attachment_id", att.ID, "err", err)
		return
	}
	p.log.Infow("attachment blocked", "attachment_id", att.ID, "signature", result.Signature)
	observability.IncScanResult("infected")
}

func (p *Pipeline) release(ctx context.Context, id int64) {
	if err := p.repo.ReleaseToUploaded(ctx, id); err != nil {
		p.log.Errorw("release to uploaded failed", "attachment_id", id, "err", err)
	}
}

func (p *Pipeline) scanEvent(att *models.Attachment, eventType string) *models.OutboxEvent {
	id, err := p.idGen.Next()
	if err != nil {
		p.log.Errorw("id generation failed", "err", err)
		return nil
	}

	payload, _ := json.Marshal(map[string]string{
		"attachmentId": strconv.FormatInt(att.ID, 10),
		"serverId":     strconv.FormatInt(att.ServerID, 10),
		"channelId":    strconv.FormatInt(att.ChannelID, 10),
	})
	return &models.OutboxEvent{
		ID:            id,
		AggregateType: "server",
		AggregateID:   strconv.FormatInt(att.ServerID, 10),
		EventType:     eventType,
		Payload:       payload,
	}
}
