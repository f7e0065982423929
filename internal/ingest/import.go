package ingest

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/projtrack/internal/model"
)

// DefaultChunkSize is the number of records written per upsert call.
const DefaultChunkSize = 500

// MentionWriter stores mentions.
type MentionWriter interface {
	UpsertMentions(ctx context.Context, mentions []model.MentionRecord) (int, error)
}

// CardWriter stores cards. KnownMentionIDs reports which mentions exist, so
// cards without a stored mention can be rejected before the write.
type CardWriter interface {
	KnownMentionIDs(ctx context.Context, mentionIDs []string) ([]string, error)
	UpsertCards(ctx context.Context, cards []model.ProjectCard) (int, error)
}

// ImportStats summarizes an import.
type ImportStats struct {
	Read     int `json:"read"`
	Rejected int `json:"rejected"`
	Written  int `json:"written"`
}

// ImportMentions reads mentions from r and stores them in chunks. Existing
// mentions are left untouched.
func ImportMentions(ctx context.Context, w MentionWriter, r io.Reader, chunk int) (ImportStats, error) {
	log := zap.L().With(zap.String("component", "ingest"), zap.String("kind", "mentions"))
	var stats ImportStats
	buf := newChunker(chunk, func(ms []model.MentionRecord) error {
		n, err := w.UpsertMentions(ctx, ms)
		stats.Written += n
		return eris.Wrap(err, "ingest: store mentions")
	})

	err := Decode(ctx, r, func(in MentionInput) error {
		stats.Read++
		m, err := in.Record()
		if err != nil {
			stats.Rejected++
			log.Warn("mention rejected", zap.Int("record", stats.Read), zap.Error(err))
			return nil
		}
		return buf.add(m)
	}, badLine(log, &stats))
	if err != nil {
		return stats, err
	}
	if err := buf.flush(); err != nil {
		return stats, err
	}

	log.Info("mentions imported",
		zap.Int("read", stats.Read),
		zap.Int("rejected", stats.Rejected),
		zap.Int("written", stats.Written),
	)
	return stats, nil
}

// ImportCards reads cards from r and stores them in chunks, preserving any
// existing project assignment.
func ImportCards(ctx context.Context, w CardWriter, r io.Reader, chunk int) (ImportStats, error) {
	log := zap.L().With(zap.String("component", "ingest"), zap.String("kind", "cards"))
	var stats ImportStats
	buf := newChunker(chunk, func(cs []model.ProjectCard) error {
		cs, err := dropOrphans(ctx, w, cs, log, &stats)
		if err != nil || len(cs) == 0 {
			return err
		}
		n, err := w.UpsertCards(ctx, cs)
		stats.Written += n
		return eris.Wrap(err, "ingest: store cards")
	})

	err := Decode(ctx, r, func(in CardInput) error {
		stats.Read++
		c, err := in.Card()
		if err != nil {
			stats.Rejected++
			log.Warn("card rejected", zap.Int("record", stats.Read), zap.Error(err))
			return nil
		}
		return buf.add(c)
	}, badLine(log, &stats))
	if err != nil {
		return stats, err
	}
	if err := buf.flush(); err != nil {
		return stats, err
	}

	log.Info("cards imported",
		zap.Int("read", stats.Read),
		zap.Int("rejected", stats.Rejected),
		zap.Int("written", stats.Written),
	)
	return stats, nil
}

// dropOrphans removes cards whose mention is not stored, counting each as
// rejected.
func dropOrphans(ctx context.Context, w CardWriter, cards []model.ProjectCard, log *zap.Logger, stats *ImportStats) ([]model.ProjectCard, error) {
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.MentionID
	}
	known, err := w.KnownMentionIDs(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: look up mentions")
	}
	stored := make(map[string]bool, len(known))
	for _, id := range known {
		stored[id] = true
	}

	kept := make([]model.ProjectCard, 0, len(cards))
	for _, c := range cards {
		if !stored[c.MentionID] {
			stats.Rejected++
			log.Warn("card rejected: mention not stored", zap.String("mention_id", c.MentionID))
			continue
		}
		kept = append(kept, c)
	}
	return kept, nil
}

func badLine(log *zap.Logger, stats *ImportStats) func(int, error) {
	return func(line int, err error) {
		stats.Read++
		stats.Rejected++
		log.Warn("malformed line skipped", zap.Int("line", line), zap.Error(err))
	}
}

// chunker buffers records and flushes them in fixed-size batches.
type chunker[T any] struct {
	size  int
	buf   []T
	write func([]T) error
}

func newChunker[T any](size int, write func([]T) error) *chunker[T] {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &chunker[T]{size: size, write: write}
}

func (c *chunker[T]) add(v T) error {
	c.buf = append(c.buf, v)
	if len(c.buf) >= c.size {
		return c.flush()
	}
	return nil
}

func (c *chunker[T]) flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	err := c.write(c.buf)
	c.buf = c.buf[:0]
	return err
}
