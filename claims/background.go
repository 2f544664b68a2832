package claims

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/lexdesk/claims_backend/config"
	"github.com/lexdesk/claims_backend/metrics"
	"github.com/lexdesk/claims_backend/utils"
	"github.com/sirupsen/logrus"
)

const DefaultNotifyTimeout = 30 * time.Second

// TaskRunner runs fire-and-forget work off the request path. Task failures
// and panics are logged and counted, never returned to the submitter.
type TaskRunner struct {
	logger  *logrus.Logger
	metrics *metrics.Recorder
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewTaskRunner(logger *logrus.Logger, rec *metrics.Recorder, timeout time.Duration) *TaskRunner {
	if logger == nil {
		logger = config.GetLogger()
	}
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	return &TaskRunner{logger: logger, metrics: rec, timeout: timeout}
}

// Submit starts fn in its own goroutine. The task context keeps parent's
// values but not its cancellation, and is bounded by the runner timeout.
func (r *TaskRunner) Submit(parent context.Context, name string, fields logrus.Fields, fn func(ctx context.Context) error) {
	if parent == nil {
		parent = context.Background()
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
		defer cancel()

		entry := r.logger.WithFields(fields).WithField("task", name)
		if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
			entry = entry.WithField("correlation_id", cid)
		}

		var err error
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
				entry.WithField("stack", string(debug.Stack())).WithError(err).Error("[claims.task.panic]")
			}
			r.metrics.RecordNotification(name, err)
		}()

		err = fn(ctx)
		if err != nil {
			entry.WithError(err).Error("[claims.task.error]")
			return
		}
		entry.Debug("[claims.task.done]")
	}()
}

// Wait blocks until every submitted task has finished.
func (r *TaskRunner) Wait() {
	r.wg.Wait()
}

// WaitTimeout is Wait bounded by d; it reports whether all tasks finished.
func (r *TaskRunner) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
