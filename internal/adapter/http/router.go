package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dibanez/e-commerce/internal/adapter/http/middleware"
	"github.com/dibanez/e-commerce/internal/logging"
)

func NewRouter(ch *CheckoutHandler, ph *PaymentHandler, ah *AdminPaymentHandler, th *TokenHandler, authz *middleware.Authz) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.MetricsMiddleware())

	l := logging.New("http")
	r.Use(middleware.Logging(l))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	// Prometheus endpoint (scraped by Prometheus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/v1/token", th.IssueToken)

	v1 := r.Group("/v1")
	{
		v1.POST("/checkout", authz.Require("checkout.write"), ch.Checkout)
		v1.GET("/orders/:id", authz.Require("orders.read"), ch.GetOrderByID)
		v1.GET("/orders/:id/history", authz.Require("orders.read"), ch.GetOrderHistory)
		v1.POST("/orders/:id/cancel", authz.Require("orders.write"), ch.CancelOrder)

		v1.GET("/payments/methods", ph.ListMethods)
		// gateway-facing: authenticated by signature, not by token
		v1.POST("/payments/:provider/webhook", ph.Webhook)
		v1.GET("/payments/:provider/webhook", ph.Webhook)
		v1.GET("/payments/:provider/return", ph.Return)

		v1.POST("/admin/payments/:id/capture", authz.Require("payments.admin"), ah.Capture)
		v1.POST("/admin/payments/:id/refund", authz.Require("payments.admin"), ah.Refund)
	}

	return r
}
