package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/stockbill_backend/config"
	"bitbucket.org/mmdatafocus/stockbill_backend/models"
	"bitbucket.org/mmdatafocus/stockbill_backend/models/reports"
	"bitbucket.org/mmdatafocus/stockbill_backend/utils"
	"bitbucket.org/mmdatafocus/stockbill_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

const dateLayout = "2006-01-02"

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// respondError maps the error taxonomy onto HTTP statuses: bad input is 400,
// a covered-by-nothing line is 409, a rolled-back commit is 503 (retryable).
func respondError(c *gin.Context, err error) {
	var validationErr *utils.ValidationError
	var insufficientErr *utils.InsufficientStockError
	var commitErr *utils.CommitError
	var bindingErrs validator.ValidationErrors

	switch {
	case errors.As(err, &bindingErrs):
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error(), "field": validationErr.Field})
	case errors.As(err, &insufficientErr):
		c.JSON(http.StatusConflict, gin.H{"error": insufficientErr.Error(), "detail": insufficientErr})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	case errors.As(err, &commitErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": commitErr.Error(), "retryable": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func stockFilterFromQuery(c *gin.Context) *models.StockFilter {
	filter := &models.StockFilter{
		Product:       c.Query("product"),
		Type:          c.Query("type"),
		Place:         c.Query("place"),
		Unit:          c.Query("unit"),
		OnlyAvailable: c.Query("available") == "true",
	}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(dateLayout, v); err == nil {
			filter.FromDate = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(dateLayout, v); err == nil {
			filter.ToDate = &t
		}
	}
	return filter
}

func createStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewStock
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		stock, err := models.CreateStock(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, stock)
	}
}

func updateStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.UpdateStockInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		stock, err := models.UpdateStock(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stock)
	}
}

func listStocksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stocks, err := models.GetStocks(c.Request.Context(), stockFilterFromQuery(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stocks)
	}
}

func stockBalancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		balances, err := models.GetStockBalances(c.Request.Context(), stockFilterFromQuery(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, balances)
	}
}

func createBillHandler(logger *logrus.Logger, policy models.DeductionPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewBill
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		bill, err := workflow.CreateBill(c.Request.Context(), logger, &input, policy)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, bill)
	}
}

func listBillsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := &models.BillFilter{BillNumber: c.Query("bill_number")}
		if v := c.Query("from"); v != "" {
			if t, err := time.Parse(dateLayout, v); err == nil {
				filter.FromDate = &t
			}
		}
		if v := c.Query("to"); v != "" {
			if t, err := time.Parse(dateLayout, v); err == nil {
				filter.ToDate = &t
			}
		}
		bills, err := models.GetBills(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, bills)
	}
}

func getBillHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bill, err := models.GetBill(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, bill)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// The desktop shell sends SIGTERM on app close; drain in-flight commits.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Pick the consumption order once, at startup, so every deduction in this
	// process uses the same policy.
	deductionPolicy := models.DeductionPolicyFromEnv(os.Getenv("STOCK_DEDUCTION_POLICY"))

	r := gin.New()
	r.Use(gin.Recovery())

	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate data endpoints on DB readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Local desktop shell by default; explicit allowlist when exposed beyond it.
	if allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); allowedOrigins != "" {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	r.Use(cors.New(corsConfig))

	api := r.Group("/api")
	api.POST("/stocks", createStockHandler())
	api.PUT("/stocks/:id", updateStockHandler())
	api.GET("/stocks", listStocksHandler())
	api.GET("/stock-balances", stockBalancesHandler())
	api.POST("/bills", createBillHandler(logger, deductionPolicy))
	api.GET("/bills", listBillsHandler())
	api.GET("/bills/:id", getBillHandler())
	api.GET("/export/stocks", gin.WrapF(reports.ExportStocksExcel))
	api.GET("/export/bills", gin.WrapF(reports.ExportBillsExcel))
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"module": "server.go"}).Fatal(err.Error())
		}
	}()

	// Connect after the listener is up; the readiness gate returns 503 until
	// the DB is usable.
	go func() {
		config.ConnectDatabaseWithRetry()
		models.MigrateTable()
	}()

	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		config.LogError(logger, "server.go", "main", "Shutdown", nil, err)
	}
}
