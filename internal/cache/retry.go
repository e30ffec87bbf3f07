package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/packsmith/packsmith/internal/builderr"
)

// maxBackoff 是两次尝试之间的最长等待。
const maxBackoff = time.Minute

// retryWithBackoff 最多执行 maxAttempts 次 op，两次尝试之间按指数退避等待。
// op 返回 retry=false 时立即返回其错误；重试耗尽后返回最后一次错误。
func retryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			timer := time.NewTimer(backoffDelay(baseBackoff, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted: %w", errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// backoffDelay 返回第 attempt 次尝试前的等待时间，按 maxBackoff 封顶。
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= maxBackoff/2 {
			return maxBackoff
		}
		delay *= 2
	}
	return min(delay, maxBackoff)
}

// isTemporary 只把标记为可重试的网络错误视为临时错误。
func isTemporary(err error) bool {
	var netErr *builderr.NetworkError
	return errors.As(err, &netErr) && netErr.Temporary
}
