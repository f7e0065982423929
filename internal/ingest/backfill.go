package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/projtrack/internal/model"
)

// BackfillJobName identifies the backfill in checkpoints and logs.
const BackfillJobName = "backfill"

// BackfillStore is the persistence a backfill needs.
type BackfillStore interface {
	ListMentionIDs(ctx context.Context) ([]string, error)
	GetMention(ctx context.Context, mentionID string) (*model.MentionRecord, error)
	UpsertCards(ctx context.Context, cards []model.ProjectCard) (int, error)
}

// BackfillStats counts what a backfill did during one invocation.
type BackfillStats struct {
	Extracted int
	Missing   int
}

// BackfillJob re-extracts the card of every stored mention as a batch job.
// Extractor calls are throttled; upserts keep each card's project.
type BackfillJob struct {
	store     BackfillStore
	extractor Extractor
	limiter   *rate.Limiter
	Stats     BackfillStats
	log       *zap.Logger
}

// NewLimiter builds the extractor throttle. A non-positive rate means no
// limit.
func NewLimiter(perSec float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// NewBackfillJob creates a BackfillJob. A nil limiter means no limit.
func NewBackfillJob(s BackfillStore, ex Extractor, limiter *rate.Limiter) *BackfillJob {
	if limiter == nil {
		limiter = NewLimiter(0, 1)
	}
	return &BackfillJob{
		store:     s,
		extractor: ex,
		limiter:   limiter,
		log:       zap.L().With(zap.String("component", "backfill")),
	}
}

// Name implements batch.Job.
func (j *BackfillJob) Name() string { return BackfillJobName }

// Load lists every stored mention id.
func (j *BackfillJob) Load(ctx context.Context) ([]string, error) {
	ids, err := j.store.ListMentionIDs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "backfill: list mentions")
	}
	j.log.Info("backfill planned", zap.Int("mentions", len(ids)))
	return ids, nil
}

// Process re-extracts and stores the card of one mention.
func (j *BackfillJob) Process(ctx context.Context, mentionID string) error {
	m, err := j.store.GetMention(ctx, mentionID)
	if err != nil {
		return eris.Wrapf(err, "backfill: get mention %s", mentionID)
	}
	if m == nil {
		j.log.Warn("mention vanished, skipping", zap.String("mention_id", mentionID))
		return nil
	}

	if err := j.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "backfill: rate limit")
	}
	card, err := j.extractor.Extract(ctx, *m)
	if err != nil {
		return eris.Wrapf(err, "backfill: extract %s", mentionID)
	}
	if card == nil {
		j.Stats.Missing++
		return nil
	}

	card.MentionID = mentionID
	if _, err := j.store.UpsertCards(ctx, []model.ProjectCard{*card}); err != nil {
		return eris.Wrapf(err, "backfill: store card %s", mentionID)
	}
	j.Stats.Extracted++
	return nil
}
