// Package scheduler 维护调度条目与 cron 定时器之间的对应关系，
// 并在定时器触发时执行商品轮询。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stockhunter/internal/model"
	"stockhunter/internal/pkg/metrics"
	"stockhunter/internal/store"

	"github.com/robfig/cron/v3"
)

// Runner 是定时器触发时执行的任务。
type Runner interface {
	Run(ctx context.Context, sched model.Schedule)
}

// Orchestrator 独占持有 调度条目 ID → cron entry 的注册表。
//
// 注册表只通过 Apply 变更：启动对账与订阅事件都汇聚到同一把锁下，
// 同一条目的事件按到达顺序生效。
type Orchestrator struct {
	scheds *store.ScheduleStore
	feed   *store.Feed
	runner Runner
	logger *slog.Logger

	parser cron.Parser
	c      *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	exprs   map[string]string
}

// New 创建编排器。tz 为空时使用 UTC。
func New(scheds *store.ScheduleStore, feed *store.Feed, runner Runner, logger *slog.Logger, tz string) (*Orchestrator, error) {
	loc := time.UTC
	if tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = parsed
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	o := &Orchestrator{
		scheds:  scheds,
		feed:    feed,
		runner:  runner,
		logger:  logger,
		parser:  parser,
		entries: make(map[string]cron.EntryID),
		exprs:   make(map[string]string),
	}
	o.c = cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	return o, nil
}

// Run 执行启动对账，然后消费调度变更事件直到 ctx 取消。
//
// 对账先于事件消费完成：存量 Playing 条目全部注册后才开始处理
// 增量事件，保证重启不丢定时器。
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Reconcile(ctx); err != nil {
		return err
	}
	o.c.Start()
	defer o.stop()

	var events <-chan store.ScheduleEvent
	if o.feed != nil {
		ch, err := o.feed.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe schedule feed: %w", err)
		}
		events = ch
	}

	o.logger.Info("orchestrator started", slog.Int("schedules", o.Len()))
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := o.Apply(ctx, ev); err != nil {
				o.logger.Error("apply schedule event failed",
					slog.String("schedule_id", ev.ScheduleID),
					slog.String("op", string(ev.Op)),
					slog.String("error", err.Error()))
			}
		}
	}
}

// Reconcile 从数据库加载全部 Playing 条目并注册。已注册的条目做
// 幂等替换，因此对账可以随时重复执行。
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	playing, err := o.scheds.ListPlaying(ctx)
	if err != nil {
		return fmt.Errorf("reconcile schedules: %w", err)
	}
	for i := range playing {
		if err := o.register(playing[i]); err != nil {
			// 坏表达式不应拖垮其他条目的注册。
			o.logger.Error("skip schedule with bad cron expression",
				slog.String("schedule_id", playing[i].ID),
				slog.String("cron", playing[i].CronExpression),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// Apply 将一条调度变更事件作用到注册表。
//
// upsert 事件以数据库为准重新核对条目：Playing 注册（替换旧定时器），
// Stopped / Error / 已删除则取消；delete 事件直接取消，条目不存在
// 不算错误。
func (o *Orchestrator) Apply(ctx context.Context, ev store.ScheduleEvent) error {
	if ev.Op == store.FeedDelete {
		o.remove(ev.ScheduleID)
		return nil
	}

	sched, err := o.scheds.Get(ctx, ev.ScheduleID)
	if err == store.ErrNotFound {
		o.remove(ev.ScheduleID)
		return nil
	}
	if err != nil {
		return err
	}
	if sched.State != model.SchedulePlaying {
		o.remove(sched.ID)
		return nil
	}
	return o.register(*sched)
}

// register 注册或替换一个定时器。表达式未变时不动已有定时器。
func (o *Orchestrator) register(sched model.Schedule) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if expr, ok := o.exprs[sched.ID]; ok && expr == sched.CronExpression {
		metrics.ScheduleEventsTotal.WithLabelValues("noop").Inc()
		return nil
	}

	if _, err := o.parser.Parse(sched.CronExpression); err != nil {
		return fmt.Errorf("parse cron %q: %w", sched.CronExpression, err)
	}

	if id, ok := o.entries[sched.ID]; ok {
		o.c.Remove(id)
		delete(o.entries, sched.ID)
		delete(o.exprs, sched.ID)
	}

	job := o.wrap(sched)
	entryID, err := o.c.AddJob(sched.CronExpression, job)
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}
	o.entries[sched.ID] = entryID
	o.exprs[sched.ID] = sched.CronExpression
	metrics.ScheduleEventsTotal.WithLabelValues("register").Inc()
	metrics.ActiveSchedules.Set(float64(len(o.entries)))
	o.logger.Info("schedule registered",
		slog.String("schedule_id", sched.ID),
		slog.String("cron", sched.CronExpression))
	return nil
}

// remove 取消一个定时器，条目不存在时为空操作。
func (o *Orchestrator) remove(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entryID, ok := o.entries[id]
	if !ok {
		metrics.ScheduleEventsTotal.WithLabelValues("noop").Inc()
		return
	}
	o.c.Remove(entryID)
	delete(o.entries, id)
	delete(o.exprs, id)
	metrics.ScheduleEventsTotal.WithLabelValues("cancel").Inc()
	metrics.ActiveSchedules.Set(float64(len(o.entries)))
	o.logger.Info("schedule cancelled", slog.String("schedule_id", id))
}

// wrap 给任务套上恢复与防重入链：任务 panic 只记录日志，上一次
// 触发未结束时跳过本次而不是排队。
func (o *Orchestrator) wrap(sched model.Schedule) cron.Job {
	cl := &cronLogger{logger: o.logger}
	return cron.NewChain(
		cron.Recover(cl),
		cron.SkipIfStillRunning(cl),
	).Then(cron.FuncJob(func() {
		o.runner.Run(context.Background(), sched)
	}))
}

// stop 取消全部定时器并等待在途任务结束。
func (o *Orchestrator) stop() {
	<-o.c.Stop().Done()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = make(map[string]cron.EntryID)
	o.exprs = make(map[string]string)
	metrics.ActiveSchedules.Set(0)
}

// Active 返回条目是否注册了定时器。
func (o *Orchestrator) Active(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.entries[id]
	return ok
}

// Len 返回当前注册的定时器数量。
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// cronLogger 将 cron 库的日志桥接到 slog。
type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, slog.Any("kv", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, slog.String("error", err.Error()), slog.Any("kv", keysAndValues))
}
