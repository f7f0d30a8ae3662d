package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dibanez/e-commerce/internal/adapter/repo"
	domain "github.com/dibanez/e-commerce/internal/entity"
	"github.com/dibanez/e-commerce/internal/payment"
	"github.com/dibanez/e-commerce/internal/usecase"
)

type CheckoutHandler struct {
	checkout *usecase.Checkout
	orders   usecase.OrderRepo
	cache    usecase.OrderCache
}

func NewCheckoutHandler(checkout *usecase.Checkout, orders usecase.OrderRepo, cache usecase.OrderCache) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, orders: orders, cache: cache}
}

type addressReq struct {
	FirstName  string `json:"firstName" binding:"required"`
	LastName   string `json:"lastName" binding:"required"`
	Company    string `json:"company"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state" binding:"required"`
	PostalCode string `json:"postalCode" binding:"required"`
	Country    string `json:"country" binding:"required"`
	Phone      string `json:"phone"`
}

type checkoutItemReq struct {
	ProductID string `json:"productId" binding:"required"`
	Name      string `json:"name" binding:"required"`
	SKU       string `json:"sku"`
	UnitPrice string `json:"unitPrice" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type checkoutReq struct {
	UserID     string            `json:"userId"`
	GuestEmail string            `json:"guestEmail"`
	Currency   string            `json:"currency" binding:"required"`
	Items      []checkoutItemReq `json:"items" binding:"required,min=1"`
	Billing    addressReq        `json:"billing" binding:"required"`
	Shipping   addressReq        `json:"shipping" binding:"required"`
	Notes      string            `json:"notes"`
	Provider   string            `json:"provider" binding:"required"`
	ReturnURL  string            `json:"returnUrl" binding:"required"`
	NotifyURL  string            `json:"notifyUrl" binding:"required"`
}

func toAddress(a addressReq) domain.Address {
	return domain.Address{
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Company:    a.Company,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

// Checkout handler: translate the finalized cart into the use case
// input.
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	in := usecase.CheckoutInput{
		UserID:         req.UserID,
		GuestEmail:     req.GuestEmail,
		IdempotencyKey: c.GetHeader("X-Idempotency-Key"), // prevent duplicated submissions
		Currency:       req.Currency,
		Billing:        toAddress(req.Billing),
		Shipping:       toAddress(req.Shipping),
		Notes:          req.Notes,
		ProviderCode:   req.Provider,
		ReturnURL:      req.ReturnURL,
		NotifyURL:      req.NotifyURL,
	}
	for _, it := range req.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_unit_price"})
			return
		}
		in.Items = append(in.Items, usecase.CartItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			SKU:       it.SKU,
			UnitPrice: price,
			Quantity:  it.Quantity,
		})
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	out, err := h.checkout.Execute(ctx, in)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{
		"orderId":    out.OrderID,
		"number":     out.Number,
		"status":     out.Status,
		"grandTotal": out.GrandTotal.StringFixed(2),
		"paymentId":  out.PaymentID,
	}
	if out.Declined {
		resp["declined"] = true
		resp["error"] = out.ErrorMessage
		c.JSON(http.StatusPaymentRequired, resp)
		return
	}
	if out.RedirectURL != "" {
		resp["redirectUrl"] = out.RedirectURL
	}
	if out.RenderData != nil {
		resp["renderData"] = out.RenderData
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *CheckoutHandler) GetOrderByID(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	order, err := h.orders.GetByID(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]gin.H, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, gin.H{
			"productId": it.ProductID,
			"name":      it.Name,
			"sku":       it.SKU,
			"unitPrice": it.UnitPrice.StringFixed(2),
			"quantity":  it.Quantity,
			"lineTotal": it.LineTotal.StringFixed(2),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            order.ID,
		"number":        order.Number,
		"status":        order.Status,
		"currency":      order.Currency,
		"subtotal":      order.Subtotal.StringFixed(2),
		"taxTotal":      order.TaxTotal.StringFixed(2),
		"shippingTotal": order.ShippingTotal.StringFixed(2),
		"discountTotal": order.DiscountTotal.StringFixed(2),
		"grandTotal":    order.GrandTotal.StringFixed(2),
		"items":         items,
		"createdAt":     order.CreatedAt,
	})
}

func (h *CheckoutHandler) GetOrderHistory(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	history, err := h.orders.History(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(history))
	for _, ch := range history {
		out = append(out, gin.H{
			"from":   ch.From,
			"to":     ch.To,
			"actor":  ch.Actor,
			"reason": ch.Reason,
			"at":     ch.At,
		})
	}
	c.JSON(http.StatusOK, gin.H{"orderId": id, "history": out})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *CheckoutHandler) CancelOrder(c *gin.Context) {
	var req cancelReq
	_ = c.ShouldBindJSON(&req)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.checkout.Cancel(ctx, c.Param("id"), actorFrom(c), req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": domain.StatusCanceled})
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrIllegalTransition):
		status = http.StatusConflict
	case errors.Is(err, usecase.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, payment.ErrUnknownProvider):
		// Surfaced to the shopper as "payment method unavailable".
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrEmptyOrder),
		errors.Is(err, domain.ErrAmbiguousOwner):
		status = http.StatusBadRequest
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, usecase.ErrPaymentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, usecase.ErrBadSignature):
		status = http.StatusUnauthorized
	case errors.Is(err, usecase.ErrProviderCall):
		status = http.StatusBadGateway
	case errors.Is(err, usecase.ErrNotCapturable), errors.Is(err, usecase.ErrNotRefundable):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func actorFrom(c *gin.Context) string {
	if v, ok := c.Get("clientID"); ok {
		if s, ok := v.(string); ok {
			return "client:" + s
		}
	}
	return "api"
}
