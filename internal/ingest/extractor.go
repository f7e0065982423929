package ingest

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/projtrack/internal/model"
)

// Extractor turns a mention into a card. It returns nil, nil when it has
// nothing for the mention.
type Extractor interface {
	Extract(ctx context.Context, m model.MentionRecord) (*model.ProjectCard, error)
}

// FileExtractor serves cards from an extractor output file keyed by
// mention id.
type FileExtractor struct {
	cards map[string]model.ProjectCard
}

// NewFileExtractor loads every card in path. Later records for the same
// mention replace earlier ones.
func NewFileExtractor(ctx context.Context, path string) (*FileExtractor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open cards %s", path)
	}
	defer f.Close() //nolint:errcheck

	log := zap.L().With(zap.String("component", "ingest"), zap.String("path", path))
	fe := &FileExtractor{cards: make(map[string]model.ProjectCard)}
	err = Decode(ctx, f, func(in CardInput) error {
		c, err := in.Card()
		if err != nil {
			log.Warn("card rejected", zap.Error(err))
			return nil
		}
		fe.cards[c.MentionID] = c
		return nil
	}, func(line int, err error) {
		log.Warn("malformed line skipped", zap.Int("line", line), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}
	return fe, nil
}

// NewMapExtractor serves a fixed set of cards.
func NewMapExtractor(cards ...model.ProjectCard) *FileExtractor {
	fe := &FileExtractor{cards: make(map[string]model.ProjectCard, len(cards))}
	for _, c := range cards {
		fe.cards[c.MentionID] = c
	}
	return fe
}

// Len returns the number of cards held.
func (f *FileExtractor) Len() int { return len(f.cards) }

// Extract implements Extractor.
func (f *FileExtractor) Extract(_ context.Context, m model.MentionRecord) (*model.ProjectCard, error) {
	c, ok := f.cards[m.MentionID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
