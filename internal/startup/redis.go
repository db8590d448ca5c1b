package startup

import (
	"context"
	"os"
	"time"

	"github.com/interflow/internal/logger"
	redismirror "github.com/interflow/internal/mirror/redis"
)

// ConnectMirrorWithRetry подключается к Redis-зеркалу неотправленных сообщений
// с повторами. logPrefix добавляется к сообщениям лога (например "console: ").
func ConnectMirrorWithRetry(redisURL string, maxWait time.Duration, logPrefix string) *redismirror.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redismirror.New(ctx, redisURL)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return client
	}
}
