package api

import (
	"net/http"
	"strconv"
	"strings"

	"toytracker/internal/model"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.respondError(c, "load stats failed", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleListProducts 返回平台商品列表及最新价、30 天最低价、历史最低价。
func (s *Server) handleListProducts(p model.Platform) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.store.ListProducts(c.Request.Context(), p, s.now(), s.cfg.App.NewItemDuration)
		if err != nil {
			s.respondError(c, "list products failed", err)
			return
		}
		if rows == nil {
			rows = []model.ProductView{}
		}
		c.JSON(http.StatusOK, rows)
	}
}

// handlePriceHistory 返回商品价格历史。source 缺省为 jd。
func (s *Server) handlePriceHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := model.ParsePlatform(c.DefaultQuery("source", string(model.PlatformJD)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := s.store.GetProduct(ctx, p, id); err != nil {
		s.respondError(c, "load product failed", err)
		return
	}
	rows, err := s.store.PriceHistory(ctx, p, id)
	if err != nil {
		s.respondError(c, "load price history failed", err)
		return
	}
	if rows == nil {
		rows = []model.PriceHistory{}
	}
	c.JSON(http.StatusOK, rows)
}

type purchasedRequest struct {
	Purchased *bool `json:"purchased" binding:"required"`
}

type followedRequest struct {
	Followed *bool `json:"followed" binding:"required"`
}

func (s *Server) handleSetPurchased(c *gin.Context) {
	p, id, ok := parsePlatformAndID(c)
	if !ok {
		return
	}
	var req purchasedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "purchased is required"})
		return
	}
	if err := s.store.SetPurchased(c.Request.Context(), p, id, *req.Purchased); err != nil {
		s.respondError(c, "update purchased failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_purchased": *req.Purchased})
}

func (s *Server) handleSetFollowed(c *gin.Context) {
	p, id, ok := parsePlatformAndID(c)
	if !ok {
		return
	}
	var req followedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "followed is required"})
		return
	}
	if err := s.store.SetFollowed(c.Request.Context(), p, id, *req.Followed); err != nil {
		s.respondError(c, "update followed failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_followed": *req.Followed})
}

// summaryRequest 新建或修改总表行的参数，未出现的字段不修改。
type summaryRequest struct {
	ProductName    *string `json:"product_name"`
	ProductType    *string `json:"product_type"`
	JDProductID    *uint   `json:"jd_product_id"`
	TmallProductID *uint   `json:"tmall_product_id"`
	JDURL          *string `json:"jd_url"`
	TmallURL       *string `json:"tmall_url"`
}

func (s *Server) handleListSummary(c *gin.Context) {
	rows, err := s.store.ListSummaries(c.Request.Context())
	if err != nil {
		s.respondError(c, "list summary failed", err)
		return
	}
	if rows == nil {
		rows = []model.ProductSummary{}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleCreateSummary(c *gin.Context) {
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ProductName == nil || strings.TrimSpace(*req.ProductName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_name is required"})
		return
	}
	if req.JDProductID == nil && req.TmallProductID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jd_product_id or tmall_product_id is required"})
		return
	}

	row := model.ProductSummary{
		ProductName:    strings.TrimSpace(*req.ProductName),
		JDProductID:    req.JDProductID,
		TmallProductID: req.TmallProductID,
	}
	if req.ProductType != nil {
		row.ProductType = *req.ProductType
	}
	if req.JDURL != nil {
		row.JDURL = *req.JDURL
	}
	if req.TmallURL != nil {
		row.TmallURL = *req.TmallURL
	}
	if !s.fillLinkedURLs(c, &row.JDURL, &row.TmallURL, req.JDProductID, req.TmallProductID) {
		return
	}

	if err := s.store.CreateSummary(c.Request.Context(), &row); err != nil {
		s.respondError(c, "create summary failed", err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (s *Server) handleUpdateSummary(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	updates := map[string]interface{}{}
	if req.ProductName != nil {
		name := strings.TrimSpace(*req.ProductName)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "product_name cannot be empty"})
			return
		}
		updates["product_name"] = name
	}
	if req.ProductType != nil {
		updates["product_type"] = *req.ProductType
	}
	var jdURL, tmallURL string
	if req.JDURL != nil {
		jdURL = *req.JDURL
	}
	if req.TmallURL != nil {
		tmallURL = *req.TmallURL
	}
	if !s.fillLinkedURLs(c, &jdURL, &tmallURL, req.JDProductID, req.TmallProductID) {
		return
	}
	if req.JDProductID != nil {
		updates["jd_product_id"] = *req.JDProductID
	}
	if req.TmallProductID != nil {
		updates["tmall_product_id"] = *req.TmallProductID
	}
	if jdURL != "" || req.JDURL != nil {
		updates["jd_url"] = jdURL
	}
	if tmallURL != "" || req.TmallURL != nil {
		updates["tmall_url"] = tmallURL
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	row, err := s.store.UpdateSummary(c.Request.Context(), id, updates)
	if err != nil {
		s.respondError(c, "update summary failed", err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) handleDeleteSummary(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteSummary(c.Request.Context(), id); err != nil {
		s.respondError(c, "delete summary failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleRebuildSummary(c *gin.Context) {
	res, err := s.matcher.Rebuild(c.Request.Context())
	if err != nil {
		s.respondError(c, "rebuild summary failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// fillLinkedURLs 校验关联商品存在，并在未提供链接时用商品链接补全。
// 商品不存在时写入 400 响应并返回 false。
func (s *Server) fillLinkedURLs(c *gin.Context, jdURL, tmallURL *string, jdID, tmallID *uint) bool {
	ctx := c.Request.Context()
	links := []struct {
		platform model.Platform
		id       *uint
		url      *string
	}{
		{model.PlatformJD, jdID, jdURL},
		{model.PlatformTmall, tmallID, tmallURL},
	}
	for _, l := range links {
		if l.id == nil {
			continue
		}
		product, err := s.store.GetProduct(ctx, l.platform, *l.id)
		if err != nil {
			if isNotFound(err) {
				c.JSON(http.StatusBadRequest, gin.H{"error": string(l.platform) + " product not found"})
				return false
			}
			s.respondError(c, "load product failed", err)
			return false
		}
		if *l.url == "" {
			*l.url = product.ProductURL
		}
	}
	return true
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func parsePlatformAndID(c *gin.Context) (model.Platform, uint, bool) {
	p, err := model.ParsePlatform(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", 0, false
	}
	id, ok := parseID(c)
	if !ok {
		return "", 0, false
	}
	return p, id, true
}
