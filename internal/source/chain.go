package source

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/entity-graph/internal/model"
	"github.com/sells-group/entity-graph/internal/resilience"
)

// Attempt is one step of an adapter's fallback chain. Run returns nil when
// the step found nothing.
type Attempt struct {
	Name string
	Run  func(ctx context.Context) (*model.SourceRecord, error)
}

// Chain tries attempts in order and returns the first match. A failed attempt
// does not stop the chain; if nothing matched, the record is an error when
// any attempt failed and no_match otherwise.
func Chain(ctx context.Context, sourceID string, attempts ...Attempt) model.SourceRecord {
	start := time.Now()
	var lastErr error
	var lastName string

	for _, a := range attempts {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		rec, err := a.Run(ctx)
		if err != nil {
			zap.L().Debug("source: attempt failed, trying next",
				zap.String("source", sourceID),
				zap.String("attempt", a.Name),
				zap.Error(err),
			)
			lastErr, lastName = err, a.Name
			continue
		}
		if rec == nil {
			continue
		}
		rec.SourceID = sourceID
		rec.LinkStatus = model.LinkStatusLinked
		rec.Attempt = a.Name
		zap.L().Debug("source: linked",
			zap.String("source", sourceID),
			zap.String("attempt", a.Name),
			zap.String("canonical_id", rec.CanonicalID),
			zap.Duration("elapsed", time.Since(start)),
		)
		return *rec
	}

	if lastErr != nil {
		kind := resilience.Kind(lastErr)
		zap.L().Warn("source: lookup failed",
			zap.String("source", sourceID),
			zap.String("attempt", lastName),
			zap.String("kind", kind),
			zap.Error(lastErr),
		)
		return model.SourceRecord{
			SourceID:   sourceID,
			LinkStatus: model.LinkStatusError,
			Attempt:    lastName,
			Err:        lastErr.Error(),
			ErrKind:    kind,
		}
	}
	return model.SourceRecord{SourceID: sourceID, LinkStatus: model.LinkStatusNoMatch}
}
