package exchange

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/exchange_backend/appctx"
	"bitbucket.org/mmdatafocus/exchange_backend/config"
	"bitbucket.org/mmdatafocus/exchange_backend/models"
	"bitbucket.org/mmdatafocus/exchange_backend/utils"
)

// RegisterRoutes mounts the member-facing exchange endpoints.
func RegisterRoutes(r gin.IRouter, service *Service) {
	r.POST("/exchange/orders", CreateOrderHandler(service))
	r.GET("/exchange/orders", ListOrdersHandler())
	r.GET("/exchange/orders/:id", OrderDetailHandler())
	r.POST("/exchange/orders/:id/cancel", CancelOrderHandler(service))
	r.POST("/exchange/orders/:id/force-refresh", ForceRefreshHandler(service))
	r.GET("/exchange/stock", StockHandler())
}

func CreateOrderHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeId, ownerId, _, err := callerIdentity(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input CreateOrderInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		order, err := service.CreateOrder(c.Request.Context(), scopeId, ownerId, input)
		if err != nil {
			status := http.StatusInternalServerError
			var validationErrs validator.ValidationErrors
			switch {
			case errors.As(err, &validationErrs):
				status = http.StatusBadRequest
			case errors.Is(err, ErrScopeNotConfigured), errors.Is(err, ErrScopeDisabled):
				status = http.StatusForbidden
			case errors.Is(err, ErrUnknownItem), errors.Is(err, ErrInsufficientStock):
				status = http.StatusUnprocessableEntity
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, order)
	}
}

func ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeId, ownerId, isOperator, err := callerIdentity(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		db := config.GetDB().WithContext(c.Request.Context())

		query := db.Preload("Items").Where("scope_id = ?", scopeId)
		if !isOperator {
			query = query.Where("owner_id = ?", ownerId)
		}
		if status := strings.TrimSpace(c.Query("status")); status != "" {
			if !models.OrderStatus(status).Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
				return
			}
			query = query.Where("status = ?", status)
		}

		var orders []models.ExchangeOrder
		if err := query.Order("id DESC").Limit(200).Find(&orders).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders})
	}
}

func OrderDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeId, ownerId, isOperator, err := callerIdentity(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		orderId, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
			return
		}

		var order models.ExchangeOrder
		err = config.GetDB().WithContext(c.Request.Context()).
			Preload("Items").
			Where("id = ? AND scope_id = ?", orderId, scopeId).
			Take(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !isOperator && order.OwnerId != ownerId {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func CancelOrderHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeId, ownerId, isOperator, err := callerIdentity(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		orderId, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
			return
		}

		order, err := service.CancelOrder(c.Request.Context(), scopeId, uint(orderId), ownerId, isOperator)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, ErrOrderNotFound):
				status = http.StatusNotFound
			case errors.Is(err, ErrOrderNotCancellable):
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func ForceRefreshHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeId, ownerId, isOperator, err := callerIdentity(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		orderId, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
			return
		}

		if err := service.ForceRefresh(c.Request.Context(), scopeId, uint(orderId), ownerId, isOperator); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, ErrOrderNotFound):
				status = http.StatusNotFound
			case errors.Is(err, ErrOrderNotCancellable):
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"refreshing": true})
	}
}

// StockHandler lists what the scope currently trades, with computed member
// prices for both directions.
func StockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scopeId, _, _, err := callerIdentity(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		db := config.GetDB().WithContext(c.Request.Context())

		var cfg models.ScopeConfig
		if err := db.Where("scope_id = ?", scopeId).Take(&cfg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "scope not configured"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var stocks []models.StockSnapshot
		if err := db.Where("scope_id = ?", scopeId).Order("item_type").Find(&stocks).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		type stockResponse struct {
			models.StockSnapshot
			SellUnitPrice string `json:"sell_unit_price"`
			BuyUnitPrice  string `json:"buy_unit_price"`
		}
		out := make([]stockResponse, 0, len(stocks))
		for i := range stocks {
			out = append(out, stockResponse{
				StockSnapshot: stocks[i],
				SellUnitPrice: UnitPriceFor(&cfg, &stocks[i], models.OrderDirectionSell).StringFixed(2),
				BuyUnitPrice:  UnitPriceFor(&cfg, &stocks[i], models.OrderDirectionBuy).StringFixed(2),
			})
		}
		c.JSON(http.StatusOK, gin.H{"stock": out})
	}
}

func callerIdentity(c *gin.Context) (scopeId string, ownerId int64, isOperator bool, err error) {
	ctx := c.Request.Context()
	scopeId, ok := utils.GetScopeIdFromContext(ctx)
	if !ok || strings.TrimSpace(scopeId) == "" {
		return "", 0, false, errors.New("scope_id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return "", 0, false, errors.New("user is required")
	}
	isOperator, _ = appctx.GetBool(ctx, appctx.ContextKeyIsOperator)
	return scopeId, int64(userId), isOperator, nil
}
