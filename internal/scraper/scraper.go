// Package scraper 封装对外部抓取服务的调用。
//
// 页面抓取与解析本身不在本服务内实现：抓取服务是一个黑盒 HTTP 服务，
// 输入商品 URL，输出结构化的商品文档（或失败）。
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockhunter/internal/pkg/metrics"
	"stockhunter/internal/pkg/ratelimit"
)

var (
	// ErrEmptyResult 表示抓取服务没有返回任何结果（瞬时失败，下个周期重试）。
	ErrEmptyResult = errors.New("scraper returned empty result")
	// ErrMalformed 表示抓取结果缺少必需结构（按抓取失败处理，本周期中止）。
	ErrMalformed = errors.New("scraper result missing required structure")
)

// SizeResult 是抓取服务返回的尺码原始数据。字段允许缺失。
type SizeResult struct {
	Name               string  `json:"name"`
	Availability       string  `json:"availability"`
	Created            string  `json:"created"`
	OldPrice           float64 `json:"oldPrice"`
	Price              float64 `json:"price"`
	DiscountPercentage string  `json:"discountPercentage"`
}

// ColorResult 是抓取服务返回的颜色原始数据。
type ColorResult struct {
	Name    string       `json:"name"`
	HexCode string       `json:"hexCode"`
	Created string       `json:"created"`
	Image   string       `json:"image"`
	URL     string       `json:"url"`
	Sizes   []SizeResult `json:"sizes"`
}

// Result 是抓取服务返回的完整商品文档。
type Result struct {
	Name    string        `json:"name"`
	Created string        `json:"created"`
	Colors  []ColorResult `json:"colors"`
}

// Validate 校验文档是否具备最低限度的结构。
//
// 字段缺失按空值容忍，但整个文档必须至少有一个带名字的颜色，
// 否则视为格式错误。
func (r *Result) Validate() error {
	if r == nil {
		return ErrMalformed
	}
	for i := range r.Colors {
		if strings.TrimSpace(r.Colors[i].Name) != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: no named colors", ErrMalformed)
}

// Scraper 定义抓取能力接口。
type Scraper interface {
	// Fetch 抓取指定商品 URL，返回结构化文档。
	Fetch(ctx context.Context, productURL string) (*Result, error)
}

// HTTPScraper 通过 HTTP 调用外部抓取服务。
type HTTPScraper struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.RateLimiter
	logger  *slog.Logger
}

// NewHTTPScraper 创建抓取服务客户端。
//
// limiter 可以为 nil（不限流）；timeout 为 0 时使用默认 60s。
func NewHTTPScraper(baseURL string, timeout time.Duration, limiter *ratelimit.RateLimiter, logger *slog.Logger) *HTTPScraper {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPScraper{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}
}

// Fetch 调用抓取服务并解析返回的商品文档。
func (s *HTTPScraper) Fetch(ctx context.Context, productURL string) (*Result, error) {
	if strings.TrimSpace(productURL) == "" {
		return nil, errors.New("product url is empty")
	}
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("scrape ratelimit: %w", err)
		}
	}

	endpoint := s.baseURL + "/scrape?url=" + url.QueryEscape(productURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build scrape request: %w", err)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.ScrapeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("call scraper: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scraper status %d: %w", resp.StatusCode, ErrEmptyResult)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read scraper response: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 || string(body) == "null" {
		return nil, ErrEmptyResult
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}

	s.logger.Debug("scrape completed",
		slog.String("url", productURL),
		slog.Int("colors", len(result.Colors)))
	return &result, nil
}
