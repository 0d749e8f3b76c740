// Package crawler 提供列表数据源：基于 rod 的浏览器抓取服务和离线文件数据源。
//
// 数据源只负责把页面变成结构化的 model.Listing，价格解码与入库由 ingest 包完成。
package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"toytracker/internal/model"
)

// ErrPageSeen 页面在去重窗口内已经抓取过。
var ErrPageSeen = errors.New("page already crawled in dedup window")

// PageRequest 一个待抓取的列表页。
type PageRequest struct {
	Platform model.Platform
	URL      string
	Page     int
}

// Source 列表数据源。
type Source interface {
	Fetch(ctx context.Context, req PageRequest) ([]model.Listing, error)
}

// FileSource 从本地文件读取列表：.json 为 Listing 数组，.html/.htm 为保存下来的列表页。
// PageRequest.URL 是文件路径（可带 file:// 前缀）。
type FileSource struct{}

// Fetch 读取并解析文件。
func (FileSource) Fetch(ctx context.Context, req PageRequest) ([]model.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(req.URL, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open listings: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return ParseListings(req.Platform, f, "")
	default:
		return ReadListings(f)
	}
}

// ReadListings 解码 JSON 格式的 Listing 数组。
func ReadListings(r io.Reader) ([]model.Listing, error) {
	var listings []model.Listing
	if err := json.NewDecoder(r).Decode(&listings); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}
	return listings, nil
}

// PageResult 单页抓取结果。
type PageResult struct {
	Request  PageRequest
	Listings []model.Listing
	Err      error
}

// Collect 依次抓取所有页面并按平台汇总。
//
// 单页失败只记录日志，不影响后续页面；已去重的页面跳过。maxItems > 0 时每个平台最多保留
// 该数量的记录。ctx 取消时返回已收集的部分与 ctx.Err()。
func Collect(ctx context.Context, src Source, reqs []PageRequest, maxItems int, logger *slog.Logger) (map[model.Platform][]model.Listing, []PageResult, error) {
	out := make(map[model.Platform][]model.Listing)
	results := make([]PageResult, 0, len(reqs))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return out, results, err
		}
		if maxItems > 0 && len(out[req.Platform]) >= maxItems {
			continue
		}

		listings, err := src.Fetch(ctx, req)
		results = append(results, PageResult{Request: req, Listings: listings, Err: err})
		if err != nil {
			if errors.Is(err, ErrPageSeen) {
				logger.Info("page skipped", slog.String("platform", string(req.Platform)), slog.Int("page", req.Page))
				continue
			}
			if ctx.Err() != nil {
				return out, results, ctx.Err()
			}
			logger.Warn("fetch page failed",
				slog.String("platform", string(req.Platform)),
				slog.String("url", req.URL),
				slog.String("error", err.Error()))
			continue
		}

		got := out[req.Platform]
		got = append(got, listings...)
		if maxItems > 0 && len(got) > maxItems {
			got = got[:maxItems]
		}
		out[req.Platform] = got
		logger.Info("page fetched",
			slog.String("platform", string(req.Platform)),
			slog.Int("page", req.Page),
			slog.Int("items", len(listings)))
	}
	return out, results, nil
}
