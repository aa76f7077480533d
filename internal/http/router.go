// README: HTTP router registration.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"orderflow/internal/http/handlers"
	"orderflow/internal/http/middleware"
	"orderflow/internal/modules/order"
)

func NewRouter(orderService *order.Service, loc *time.Location, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(log), middleware.Recovery(log))

	orderHandler := handlers.NewOrderHandler(orderService, loc, log)
	v1 := r.Group("/v1")
	v1.POST("/orders", orderHandler.Create)
	v1.GET("/orders/:id", orderHandler.Get)
	v1.PUT("/orders/:id/take", orderHandler.Take)
	v1.PUT("/orders/:id/complete", orderHandler.Complete)
	v1.PUT("/orders/:id/cancel", orderHandler.Cancel)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
	})

	return r
}
