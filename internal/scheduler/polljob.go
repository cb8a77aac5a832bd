package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"stockhunter/internal/model"
	"stockhunter/internal/pkg/metrics"
	"stockhunter/internal/pkg/notify"
	"stockhunter/internal/scraper"
	"stockhunter/internal/snapshot"
	"stockhunter/internal/store"
)

// PollJob 执行一次商品轮询周期：抓取、对比、合并、落库、告警。
//
// 周期内任何失败都只记录日志并放弃本次周期，已持久化的快照不会被
// 污染；通知失败不回滚落库（投递语义是 at-most-once）。
type PollJob struct {
	products   *store.ProductStore
	scheds     *store.ScheduleStore
	scraper    scraper.Scraper
	dispatcher *notify.Dispatcher
	timeout    time.Duration
	logger     *slog.Logger

	now func() time.Time
}

// NewPollJob 创建轮询任务。timeout <= 0 时默认 90 秒。
func NewPollJob(products *store.ProductStore, scheds *store.ScheduleStore, sc scraper.Scraper, dispatcher *notify.Dispatcher, timeout time.Duration, logger *slog.Logger) *PollJob {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &PollJob{
		products:   products,
		scheds:     scheds,
		scraper:    sc,
		dispatcher: dispatcher,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Run 执行一次轮询周期。
func (j *PollJob) Run(ctx context.Context, sched model.Schedule) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	log := j.logger.With(
		slog.String("schedule_id", sched.ID),
		slog.String("product_id", sched.ProductID))

	prev, err := j.products.Get(ctx, sched.ProductID)
	if err != nil {
		// 商品没了说明调度条目成了孤儿，留给对账处理。
		metrics.PollCyclesTotal.WithLabelValues("fetch_error").Inc()
		log.Error("load product failed", slog.String("error", err.Error()))
		return
	}

	res, err := j.scraper.Fetch(ctx, prev.URL)
	if err != nil {
		outcome := "fetch_error"
		if errors.Is(err, scraper.ErrMalformed) {
			outcome = "malformed"
		}
		metrics.PollCyclesTotal.WithLabelValues(outcome).Inc()
		log.Error("scrape failed", slog.String("error", err.Error()))
		return
	}

	next := snapshot.FromScraped(prev, res, j.now())

	// 首次观测：还没有任何颜色数据，直接落库，不产生告警。
	if len(prev.Colors) == 0 {
		if err := j.products.Upsert(ctx, next); err != nil {
			metrics.PollCyclesTotal.WithLabelValues("persist_error").Inc()
			log.Error("persist first snapshot failed", slog.String("error", err.Error()))
			return
		}
		j.touchLastRun(ctx, sched.ID, log)
		metrics.PollCyclesTotal.WithLabelValues("success").Inc()
		log.Info("first snapshot persisted")
		return
	}

	// 无变化且没有进行中的补货确认时，整个周期短路。
	if snapshot.Equal(prev, next) && !snapshot.PendingConfirmation(prev) {
		j.touchLastRun(ctx, sched.ID, log)
		metrics.PollCyclesTotal.WithLabelValues("unchanged").Inc()
		return
	}

	if !snapshot.Equal(prev, next) {
		metrics.SnapshotDiffsTotal.Inc()
	}

	merged, alerts := snapshot.Merge(prev, next)
	if err := j.products.Upsert(ctx, merged); err != nil {
		metrics.PollCyclesTotal.WithLabelValues("persist_error").Inc()
		log.Error("persist merged snapshot failed", slog.String("error", err.Error()))
		return
	}
	j.touchLastRun(ctx, sched.ID, log)

	if len(alerts) > 0 {
		if err := j.dispatcher.Dispatch(ctx, merged, alerts); err != nil {
			// 快照已落库，通知丢了就丢了。
			log.Error("dispatch alerts failed", slog.String("error", err.Error()))
		}
	}
	metrics.PollCyclesTotal.WithLabelValues("success").Inc()
	log.Info("poll cycle done", slog.Int("alerts", len(alerts)))
}

func (j *PollJob) touchLastRun(ctx context.Context, id string, log *slog.Logger) {
	if err := j.scheds.TouchLastRun(ctx, id, j.now()); err != nil {
		log.Warn("touch last run failed", slog.String("error", err.Error()))
	}
}
