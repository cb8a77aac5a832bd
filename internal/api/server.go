package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockhunter/internal/api/middleware"
	"stockhunter/internal/config"
	"stockhunter/internal/model"
	"stockhunter/internal/pkg/dedup"
	"stockhunter/internal/pkg/metrics"
	"stockhunter/internal/pkg/notify"
	"stockhunter/internal/pkg/ratelimit"
	"stockhunter/internal/pkg/retry"
	"stockhunter/internal/scheduler"
	"stockhunter/internal/scraper"
	"stockhunter/internal/snapshot"
	"stockhunter/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、调度编排器以及 Gin 路由引擎。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client
	router *gin.Engine
	orch   *scheduler.Orchestrator

	products ProductStore
	scheds   ScheduleStore
	feed     FeedPublisher
	deduper  Deduper
	scraper  scraper.Scraper

	cronParser cron.Parser
}

type ProductStore interface {
	Get(ctx context.Context, id string) (*model.Product, error)
	List(ctx context.Context, ownerID string) ([]model.Product, error)
	CountByOwner(ctx context.Context, ownerID string) (int64, error)
	Upsert(ctx context.Context, p *model.Product) error
	Delete(ctx context.Context, id string) error
}

type ScheduleStore interface {
	Create(ctx context.Context, sched *model.Schedule) error
	Get(ctx context.Context, id string) (*model.Schedule, error)
	SetState(ctx context.Context, id string, state model.ScheduleState) error
	SoftDelete(ctx context.Context, id string) error
}

type FeedPublisher interface {
	Publish(ctx context.Context, ev store.ScheduleEvent) error
}

type Deduper interface {
	IsDuplicate(ctx context.Context, ownerID, url string) (bool, error)
	Delete(ctx context.Context, ownerID, url string) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 构建抓取客户端、告警分发器与调度编排器
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.Open(cfg.MySQL.DSN)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	limiter := ratelimit.NewRedisRateLimiter(rdb, logger, "", cfg.App.RateLimit, cfg.App.RateBurst)
	sc := scraper.NewHTTPScraper(cfg.Scraper.BaseURL, cfg.Scraper.Timeout, limiter, logger)

	policy := retry.Policy{
		MaxAttempts: cfg.Alert.MaxAttempts,
		BaseDelay:   cfg.Alert.BaseDelay,
		MaxDelay:    30 * time.Second,
	}
	dispatcher := notify.NewDispatcher(logger, policy,
		notify.NewWebhookNotifier(cfg.Alert.WebhookURL, 10*time.Second, logger),
		notify.NewEmailNotifier(&cfg.Email, logger),
	)

	products := store.NewProductStore(db)
	scheds := store.NewScheduleStore(db)
	feed := store.NewFeed(rdb, cfg.App.FeedChannel, logger)

	job := scheduler.NewPollJob(products, scheds, sc, dispatcher, cfg.App.PollTimeout, logger)
	orch, err := scheduler.New(scheds, feed, job, logger, cfg.App.Timezone)
	if err != nil {
		return nil, err
	}

	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		rdb:        rdb,
		router:     r,
		orch:       orch,
		products:   products,
		scheds:     scheds,
		feed:       feed,
		deduper:    dedup.NewDeduplicator(rdb, time.Duration(cfg.App.DedupWindow)*time.Second),
		scraper:    sc,
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartOrchestrator 在后台启动调度编排器，ctx 取消时编排器随之停止。
func (s *Server) StartOrchestrator(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in schedule orchestrator", slog.Any("panic", r))
			}
		}()
		if err := s.orch.Run(ctx); err != nil {
			s.logger.Error("orchestrator stopped", slog.String("error", err.Error()))
		}
	}()
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if closeErr := sqlDB.Close(); closeErr != nil && firstErr == nil {
			firstErr = closeErr
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/products", s.handleRegisterProduct)
	s.router.GET("/products", s.handleListProducts)
	s.router.GET("/products/:id", s.handleGetProduct)
	s.router.POST("/schedules/:id/state", s.handleSetScheduleState)
	s.router.DELETE("/schedules/:id", s.handleDeleteSchedule)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// registerProductRequest 登记商品监控的请求参数。
type registerProductRequest struct {
	URL     string `json:"url" binding:"required"`
	OwnerID string `json:"owner_id" binding:"required"`
	Cron    string `json:"cron"`
}

// registerProductResponse 登记商品监控的响应。
type registerProductResponse struct {
	ProductID  string `json:"product_id"`
	ScheduleID string `json:"schedule_id"`
}

// handleRegisterProduct 登记一个商品监控：抓取一次建立首个快照，
// 创建 Playing 调度条目并发布变更事件。
func (s *Server) handleRegisterProduct(c *gin.Context) {
	var req registerProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url and owner_id are required"})
		return
	}

	productURL := strings.TrimSpace(req.URL)
	if parsed, err := url.Parse(productURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product url"})
		return
	}

	cronExpr := strings.TrimSpace(req.Cron)
	if cronExpr == "" {
		cronExpr = s.cfg.App.DefaultCron
	}
	if _, err := s.cronParser.Parse(cronExpr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cron expression"})
		return
	}

	ctx := c.Request.Context()

	dup, err := s.deduper.IsDuplicate(ctx, req.OwnerID, productURL)
	if err != nil {
		s.logger.Warn("dedup check failed", slog.String("error", err.Error()))
	} else if dup {
		metrics.WatchDuplicatePreventedTotal.Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "product already being watched"})
		return
	}

	count, err := s.products.CountByOwner(ctx, req.OwnerID)
	if err != nil {
		s.releaseDedup(ctx, req.OwnerID, productURL)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count products failed"})
		return
	}
	if int(count) >= s.cfg.App.MaxPerOwner {
		s.releaseDedup(ctx, req.OwnerID, productURL)
		c.JSON(http.StatusForbidden, gin.H{"error": "watch limit reached"})
		return
	}

	res, err := s.scraper.Fetch(ctx, productURL)
	if err != nil {
		s.releaseDedup(ctx, req.OwnerID, productURL)
		s.logger.Error("initial scrape failed", slog.String("url", productURL), slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "scrape failed"})
		return
	}

	now := time.Now()
	base := &model.Product{
		ID:      uuid.NewString(),
		URL:     productURL,
		OwnerID: req.OwnerID,
	}
	sched := &model.Schedule{
		ID:             uuid.NewString(),
		ProductID:      base.ID,
		OwnerID:        req.OwnerID,
		CronExpression: cronExpr,
		State:          model.SchedulePlaying,
	}
	base.ScheduleID = sched.ID

	product := snapshot.FromScraped(base, res, now)
	if err := s.products.Upsert(ctx, product); err != nil {
		s.releaseDedup(ctx, req.OwnerID, productURL)
		s.logger.Error("persist first snapshot failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persist snapshot failed"})
		return
	}
	if err := s.scheds.Create(ctx, sched); err != nil {
		s.releaseDedup(ctx, req.OwnerID, productURL)
		s.logger.Error("create schedule failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create schedule failed"})
		return
	}

	if err := s.feed.Publish(ctx, store.ScheduleEvent{
		Op:         store.FeedUpsert,
		ScheduleID: sched.ID,
		ProductID:  product.ID,
	}); err != nil {
		// 事件丢失由编排器对账兜底。
		s.logger.Warn("publish schedule event failed", slog.String("error", err.Error()))
	}

	s.logger.Info("product watch registered",
		slog.String("product_id", product.ID),
		slog.String("schedule_id", sched.ID),
		slog.String("owner", req.OwnerID))
	c.JSON(http.StatusCreated, registerProductResponse{
		ProductID:  product.ID,
		ScheduleID: sched.ID,
	})
}

func (s *Server) releaseDedup(ctx context.Context, ownerID, url string) {
	if err := s.deduper.Delete(ctx, ownerID, url); err != nil {
		s.logger.Warn("dedup release failed", slog.String("error", err.Error()))
	}
}

// handleListProducts 返回某个用户监控的全部商品快照。
func (s *Server) handleListProducts(c *gin.Context) {
	ownerID := ownerFrom(c)
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner is required"})
		return
	}

	products, err := s.products.List(c.Request.Context(), ownerID)
	if err != nil {
		s.logger.Error("list products failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list products failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// handleGetProduct 返回单个商品快照。
func (s *Server) handleGetProduct(c *gin.Context) {
	p, err := s.products.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		s.logger.Error("get product failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get product failed"})
		return
	}
	c.JSON(http.StatusOK, p)
}

type setScheduleStateRequest struct {
	State string `json:"state" binding:"required"`
}

// handleSetScheduleState 流转调度条目状态并发布变更事件。
func (s *Server) handleSetScheduleState(c *gin.Context) {
	var req setScheduleStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state is required"})
		return
	}
	state := model.ScheduleState(req.State)
	if !state.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state"})
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()
	if err := s.scheds.SetState(ctx, id, state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		s.logger.Error("set schedule state failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "set state failed"})
		return
	}

	if err := s.feed.Publish(ctx, store.ScheduleEvent{Op: store.FeedUpsert, ScheduleID: id}); err != nil {
		s.logger.Warn("publish schedule event failed", slog.String("error", err.Error()))
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "state": string(state)})
}

// handleDeleteSchedule 软删除调度条目，释放 URL 去重占位并发布删除事件。
func (s *Server) handleDeleteSchedule(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	sched, err := s.scheds.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}
	if err != nil {
		s.logger.Error("get schedule failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get schedule failed"})
		return
	}

	if err := s.scheds.SoftDelete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("delete schedule failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete schedule failed"})
		return
	}

	if p, err := s.products.Get(ctx, sched.ProductID); err == nil {
		s.releaseDedup(ctx, p.OwnerID, p.URL)
	}

	if err := s.feed.Publish(ctx, store.ScheduleEvent{Op: store.FeedDelete, ScheduleID: id}); err != nil {
		s.logger.Warn("publish schedule event failed", slog.String("error", err.Error()))
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// ownerFrom 从请求头或查询参数取用户标识（认证不在本服务范围内）。
func ownerFrom(c *gin.Context) string {
	if v := c.GetHeader("X-Owner-ID"); v != "" {
		return v
	}
	return c.Query("owner")
}
