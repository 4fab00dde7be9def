// Package bulk fans one logical operation out over a set of ids and reports
// per-item outcomes. A batch is never atomic: items that succeeded stay
// applied no matter what happens to the rest.
package bulk

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/apperr"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/logger"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Failure struct {
	ID    string      `json:"id"`
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind,omitempty"`
}

type Result struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// Summary reads like "8 of 10 succeeded".
func (r Result) Summary() string {
	return fmt.Sprintf("%d of %d succeeded", len(r.Succeeded), len(r.Succeeded)+len(r.Failed))
}

type ItemFunc func(ctx context.Context, id string) error

type Coordinator struct {
	workers int
	log     *zap.Logger
}

func New(workers int, log *zap.Logger) *Coordinator {
	if workers <= 0 {
		workers = 1
	}
	return &Coordinator{workers: workers, log: logger.OrNop(log)}
}

// Run applies fn to every id with at most c.workers in flight. Results keep
// the input order. Blank and repeated ids fail validation without calling fn.
// Once ctx is done no new item starts; unstarted items fail with ctx.Err().
func (c *Coordinator) Run(ctx context.Context, operation string, ids []string, fn ItemFunc) Result {
	ids = append([]string(nil), ids...)
	outcomes := make([]error, len(ids))
	seen := make(map[string]bool, len(ids))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, id := range ids {
		id = strings.TrimSpace(id)
		ids[i] = id
		switch {
		case id == "":
			outcomes[i] = apperr.New(apperr.KindValidation, operation, "blank id")
			continue
		case seen[id]:
			outcomes[i] = apperr.New(apperr.KindValidation, operation, "duplicate id %s in batch", id)
			continue
		}
		seen[id] = true

		if err := ctx.Err(); err != nil {
			outcomes[i] = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = err
				return nil
			}
			outcomes[i] = fn(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Succeeded: []string{}, Failed: []Failure{}}
	for i, err := range outcomes {
		metrics.RecordBulkItem(operation, err == nil)
		if err == nil {
			res.Succeeded = append(res.Succeeded, ids[i])
			continue
		}
		res.Failed = append(res.Failed, Failure{ID: ids[i], Error: err.Error(), Kind: apperr.KindOf(err)})
	}
	c.log.Info("bulk operation finished",
		zap.String("operation", operation),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)))
	return res
}
