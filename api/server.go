package api

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pevans/gamefed/catalog"
	"github.com/pevans/gamefed/config"
	"github.com/pevans/gamefed/journal"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Server serves the game catalog over HTTP.
type Server struct {
	store  *catalog.Store
	scorer catalog.EmbedScorer
	cfg    config.Config
	runs   *journal.Store
	log    logrus.FieldLogger
	now    func() time.Time

	// mu serializes catalog writes.
	mu sync.Mutex
}

// NewServer creates a server over store. runs may be nil, in which case the
// run history routes are not registered.
func NewServer(store *catalog.Store, scorer catalog.EmbedScorer, cfg config.Config, runs *journal.Store, log logrus.FieldLogger) *Server {
	return &Server{
		store:  store,
		scorer: scorer,
		cfg:    cfg,
		runs:   runs,
		log:    log,
		now:    time.Now,
	}
}

// SetupRouter configures the Gin router with all catalog API routes.
func (s *Server) SetupRouter() *gin.Engine {
	router := gin.Default()

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	v1 := router.Group("/api/v1")
	v1.GET("/games", s.HandleListGames)
	v1.GET("/games/:id", s.HandleGetGame)
	v1.POST("/games", s.HandleAddGame)
	v1.GET("/categories", s.HandleListCategories)
	v1.GET("/meta/config", s.HandleGetConfig)

	if s.runs != nil {
		v1.GET("/runs", s.HandleListRuns)
		v1.GET("/runs/:id", s.HandleGetRun)
	}

	return router
}

// ListGamesResponse is the response for GET /api/v1/games.
type ListGamesResponse struct {
	Games  []catalog.Record `json:"games"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// AddGameRequest is the body of POST /api/v1/games.
type AddGameRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	CategoryID  string   `json:"categoryId" binding:"required"`
	Thumbnail   string   `json:"thumbnail"`
	Featured    bool     `json:"featured"`
	Type        string   `json:"type" binding:"required"`
	IframeURL   string   `json:"iframeUrl"`
	StaticPath  string   `json:"staticPath"`
	Tags        []string `json:"tags"`
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// parsePaging reads limit and offset query parameters. On failure the
// error response has already been written.
func parsePaging(c *gin.Context) (limit, offset int, ok bool) {
	limit = defaultLimit
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, errorResponse("invalid_parameter", "Invalid limit parameter"))
			return 0, 0, false
		}
		limit = min(parsed, maxLimit)
	}

	if offsetParam := c.Query("offset"); offsetParam != "" {
		parsed, err := strconv.Atoi(offsetParam)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, errorResponse("invalid_parameter", "Invalid offset parameter"))
			return 0, 0, false
		}
		offset = parsed
	}

	return limit, offset, true
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func (s *Server) load(c *gin.Context) (*catalog.Catalog, bool) {
	cat, err := s.store.Load()
	if err != nil {
		s.log.WithError(err).Error("Failed to load catalog")
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to load catalog"))
		return nil, false
	}
	return cat, true
}

// HandleListGames handles GET /api/v1/games. The category parameter matches
// a category slug or id; featured filters on the featured flag.
func (s *Server) HandleListGames(c *gin.Context) {
	cat, ok := s.load(c)
	if !ok {
		return
	}
	games := cat.Records

	if category := c.Query("category"); category != "" {
		id := category
		if found, ok := catalog.CategoryBySlug(cat.Categories, category); ok {
			id = found.ID
		}
		games = filterGames(games, func(r catalog.Record) bool {
			return r.CategoryID == id
		})
	}

	if featured := c.Query("featured"); featured != "" {
		want, err := strconv.ParseBool(featured)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid_parameter", "Invalid featured parameter"))
			return
		}
		games = filterGames(games, func(r catalog.Record) bool {
			return r.Featured == want
		})
	}

	limit, offset, ok := parsePaging(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, ListGamesResponse{
		Games:  paginate(games, offset, limit),
		Total:  len(games),
		Limit:  limit,
		Offset: offset,
	})
}

func filterGames(games []catalog.Record, keep func(catalog.Record) bool) []catalog.Record {
	filtered := []catalog.Record{}
	for _, g := range games {
		if keep(g) {
			filtered = append(filtered, g)
		}
	}
	return filtered
}

// HandleGetGame handles GET /api/v1/games/:id.
func (s *Server) HandleGetGame(c *gin.Context) {
	cat, ok := s.load(c)
	if !ok {
		return
	}

	id := c.Param("id")
	for _, r := range cat.Records {
		if r.ID == id {
			c.JSON(http.StatusOK, r)
			return
		}
	}

	c.JSON(http.StatusNotFound, errorResponse("not_found", "Game not found"))
}

// HandleListCategories handles GET /api/v1/categories. Counts reflect the
// current records.
func (s *Server) HandleListCategories(c *gin.Context) {
	cat, ok := s.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"categories": catalog.CountCategories(cat.Records, cat.Categories),
	})
}

// HandleAddGame handles POST /api/v1/games. The game is validated and its
// embed URL scored before the catalog is rewritten.
func (s *Server) HandleAddGame(c *gin.Context) {
	var req AddGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.load(c)
	if !ok {
		return
	}

	records, added, err := catalog.Add(cat.Records, catalog.Record{
		Title:       req.Title,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		Thumbnail:   req.Thumbnail,
		Featured:    req.Featured,
		Kind:        catalog.Kind(req.Type),
		EmbedURL:    req.IframeURL,
		LocalPath:   req.StaticPath,
		Tags:        req.Tags,
	}, catalog.MergeOptions{
		Scorer:     s.scorer,
		Categories: cat.Categories,
		Now:        s.now,
	})
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrDuplicateTitle), errors.Is(err, catalog.ErrDuplicateURL):
			c.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
		case errors.Is(err, catalog.ErrUntrustedEmbed):
			c.JSON(http.StatusUnprocessableEntity, errorResponse("untrusted_embed", err.Error()))
		default:
			c.JSON(http.StatusBadRequest, errorResponse("invalid_game", err.Error()))
		}
		return
	}

	if _, err := s.store.Save(cat, records); err != nil {
		s.log.WithError(err).Error("Failed to save catalog")
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to save catalog"))
		return
	}

	s.log.WithFields(logrus.Fields{"id": added.ID, "title": added.Title}).Info("Added game")
	c.JSON(http.StatusCreated, added)
}

// HandleGetConfig handles GET /api/v1/meta/config.
func (s *Server) HandleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg)
}

// HandleListRuns handles GET /api/v1/runs.
func (s *Server) HandleListRuns(c *gin.Context) {
	limit, offset, ok := parsePaging(c)
	if !ok {
		return
	}

	runs, err := s.runs.ListRuns(journal.RunFilter{
		Action: c.Query("action"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to list runs"))
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":   runs,
		"limit":  limit,
		"offset": offset,
	})
}

// HandleGetRun handles GET /api/v1/runs/:id and includes the run's issues.
func (s *Server) HandleGetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid_id", "Invalid run ID: "+err.Error()))
		return
	}

	run, err := s.runs.GetRun(id)
	if errors.Is(err, journal.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, errorResponse("not_found", "Run not found"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to get run"))
		return
	}

	issues, err := s.runs.ListIssues(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to list issues"))
		return
	}
	if issues == nil {
		issues = []journal.Issue{}
	}

	c.JSON(http.StatusOK, gin.H{
		"run":    run,
		"issues": issues,
	})
}
