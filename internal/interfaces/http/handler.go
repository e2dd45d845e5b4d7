// @title           SimpleLOBStream API
// @version         1.0
// @description     Reconstructed limit order books: top of book, spread and depth per symbol

// @host      localhost:8080
// @BasePath  /api/v1

package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	appmarketdata "github.com/NumberChiffre/SimpleLOBStream/internal/application/service/marketdata"
	"github.com/NumberChiffre/SimpleLOBStream/internal/application/service/publisher"
	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/book"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	booksBasePath   = "/api/v1/books"
	defaultMaxDepth = 1000
)

var errBadDepth = errors.New("depth must be a non-negative integer")

// BookReader exposes the latest view of each tracked book.
type BookReader interface {
	Symbols() []string
	View(symbol string) (book.View, error)
}

type Options struct {
	// Registry enables /metrics when set.
	Registry *prometheus.Registry
	// DefaultDepth applies when the request has no depth parameter.
	DefaultDepth int
	// MaxDepth rejects deeper requests. Set it to the depth kept in views;
	// zero means 1000.
	MaxDepth int
}

type Handler struct {
	router       *gin.Engine
	books        BookReader
	defaultDepth int
	maxDepth     int
	logger       *logrus.Entry
	now          func() time.Time
}

type bookSummary struct {
	Symbol   string `json:"symbol"`
	Sequence int64  `json:"sequence"`
	Synced   bool   `json:"synced"`
}

func NewHandler(books BookReader, opts Options, logger *logrus.Logger) *Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	h := &Handler{
		router:       router,
		books:        books,
		defaultDepth: min(opts.DefaultDepth, opts.MaxDepth),
		maxDepth:     opts.MaxDepth,
		logger:       logger.WithField("component", "http"),
		now:          func() time.Time { return time.Now().UTC() },
	}
	h.registerRoutes(opts.Registry)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes(reg *prometheus.Registry) {
	h.router.GET("/healthz", h.health)
	if reg != nil {
		h.router.GET("/metrics", gin.WrapH(metrics.Handler(reg)))
	}
	h.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	books := h.router.Group(booksBasePath)
	{
		books.GET("", h.listBooks)
		books.GET("/:symbol", h.getBook)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      List books
// @Description  List tracked symbols with their last published sequence and sync state
// @Tags         books
// @Produce      json
// @Success      200  {array}   bookSummary
// @Failure      500  {object}  map[string]string
// @Router       /books [get]
func (h *Handler) listBooks(c *gin.Context) {
	symbols := h.books.Symbols()
	out := make([]bookSummary, 0, len(symbols))
	for _, symbol := range symbols {
		view, err := h.books.View(symbol)
		if err != nil {
			writeError(c, http.StatusInternalServerError, err)
			return
		}
		out = append(out, bookSummary{Symbol: symbol, Sequence: view.Sequence, Synced: view.Synced})
	}
	c.JSON(http.StatusOK, out)
}

// @Summary      Get book
// @Description  Get the last published view of a book. Unsynced books have null top-of-book fields and no depth.
// @Tags         books
// @Produce      json
// @Param        symbol  path      string  true   "Instrument symbol"
// @Param        depth   query     int     false  "Levels per side, 0 leaves depth out"
// @Success      200     {object}  marketdata.BookUpdate
// @Failure      400     {object}  map[string]string
// @Failure      404     {object}  map[string]string
// @Failure      500     {object}  map[string]string
// @Router       /books/{symbol} [get]
func (h *Handler) getBook(c *gin.Context) {
	depth, err := parseDepth(c, h.defaultDepth, h.maxDepth)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	symbol := strings.ToUpper(c.Param("symbol"))
	view, err := h.books.View(symbol)
	if err != nil {
		if errors.Is(err, appmarketdata.ErrUnknownSymbol) {
			writeError(c, http.StatusNotFound, err)
			return
		}
		h.logger.WithError(err).WithField("symbol", symbol).Warn("failed to read book")
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, publisher.BuildUpdate(symbol, view, depth, uuid.New(), h.now()))
}

func parseDepth(c *gin.Context, fallback, limit int) (int, error) {
	raw := c.Query("depth")
	if raw == "" {
		return fallback, nil
	}
	depth, err := strconv.Atoi(raw)
	if err != nil || depth < 0 {
		return 0, errBadDepth
	}
	if depth > limit {
		return 0, fmt.Errorf("depth must not exceed %d", limit)
	}
	return depth, nil
}

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
