package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"shop-service/internal/service"

	"github.com/gin-gonic/gin"
)

// averagePriceByCategory handles GET /api/products/average_price_by_category/
func (h *Handler) averagePriceByCategory(c *gin.Context) {
	raw := c.Query("category_id")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category_id parameter required"})
		return
	}
	categoryID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category_id"})
		return
	}

	avg, err := h.catalogService.AveragePriceForSubtree(c.Request.Context(), categoryID)
	if err != nil {
		if errors.Is(err, service.ErrCategoryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
			return
		}
		h.respondError(c, err, "Failed to compute average price")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"category":      avg.CategoryName,
		"average_price": json.Number(avg.AveragePrice.StringFixed(2)),
	})
}

func (h *Handler) listCategories(c *gin.Context) {
	forest, err := h.catalogService.CategoryForest(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list categories")
		return
	}
	c.JSON(http.StatusOK, forest)
}

func (h *Handler) getCategory(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	node, err := h.catalogService.CategorySubtree(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get category")
		return
	}
	c.JSON(http.StatusOK, node)
}

func (h *Handler) createCategory(c *gin.Context) {
	var req service.CategoryInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	category, err := h.catalogService.CreateCategory(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, "Failed to create category")
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (h *Handler) updateCategory(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req service.CategoryUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	category, err := h.catalogService.UpdateCategory(c.Request.Context(), id, req)
	if err != nil {
		h.respondError(c, err, "Failed to update category")
		return
	}
	c.JSON(http.StatusOK, category)
}

// listProducts returns active products, narrowed to a category subtree when
// category_id is given
func (h *Handler) listProducts(c *gin.Context) {
	var categoryID *int64
	if raw := c.Query("category_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category_id"})
			return
		}
		categoryID = &id
	}

	products, err := h.catalogService.ListProducts(c.Request.Context(), categoryID)
	if err != nil {
		h.respondError(c, err, "Failed to list products")
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	product, err := h.catalogService.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get product")
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.ProductInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	product, err := h.catalogService.CreateProduct(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, "Failed to create product")
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req service.ProductUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	product, err := h.catalogService.UpdateProduct(c.Request.Context(), id, req)
	if err != nil {
		h.respondError(c, err, "Failed to update product")
		return
	}
	c.JSON(http.StatusOK, product)
}
