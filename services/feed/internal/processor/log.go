// services/feed/internal/processor/log.go
package processor

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/logger"
	"github.com/YaganovValera/market-feed/services/feed/pkg/feed"
)

type logProcessor struct {
	log *logger.Logger
}

// NewLogProcessor пишет в лог ticker-, status- и error-кадры.
func NewLogProcessor(log *logger.Logger) Processor {
	return &logProcessor{log: log.Named("frames")}
}

func (lp *logProcessor) Process(ctx context.Context, msg feed.Message) error {
	log := lp.log.WithContext(ctx)
	switch msg.Kind {
	case feed.KindTicker:
		var t struct {
			Price   string `json:"price"`
			BestBid string `json:"best_bid"`
			BestAsk string `json:"best_ask"`
		}
		_ = json.Unmarshal(msg.Payload, &t)
		log.Debug("ticker",
			zap.String("product_id", msg.ProductID),
			zap.String("price", t.Price),
			zap.String("best_bid", t.BestBid),
			zap.String("best_ask", t.BestAsk),
		)
	case feed.KindError:
		log.Warn("exchange error frame", zap.ByteString("raw", msg.Payload))
	case feed.KindStatus:
		log.Debug("status frame", zap.Int("bytes", len(msg.Payload)))
	}
	return nil
}
