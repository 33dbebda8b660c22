package bot

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// RetrySender оборачивает Sender ограниченным числом повторов доставки.
// Окончательная неудача проглатывается: сбой доставки никогда не влияет
// на исход взаимодействия.
type RetrySender struct {
	next     Sender
	logger   *zap.Logger
	attempts uint64
}

// NewRetrySender создаёт обёртку с указанным числом повторов.
func NewRetrySender(next Sender, logger *zap.Logger, attempts uint64) *RetrySender {
	return &RetrySender{
		next:     next,
		logger:   logger,
		attempts: attempts,
	}
}

// Send доставляет сообщение с повторами и фиксированной паузой между ними.
func (s *RetrySender) Send(ctx context.Context, userID int64, msg Message) (string, error) {
	var deliveryID string

	backoff := retry.WithMaxRetries(s.attempts, retry.NewConstant(1*time.Second))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		id, err := s.next.Send(ctx, userID, msg)
		if err != nil {
			return retry.RetryableError(err)
		}
		deliveryID = id
		return nil
	})
	if err != nil {
		s.logger.Warn("message delivery failed",
			zap.Int64("userID", userID),
			zap.Error(err),
		)
		return "", nil
	}

	return deliveryID, nil
}
