package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/gamefed/catalog"
	"github.com/pevans/gamefed/config"
	"github.com/pevans/gamefed/journal"
	"github.com/pevans/gamefed/trust"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const sampleCatalog = `import { Game, Category } from '../types';

export const categories: Category[] = [
  { id: '1', name: '休闲', description: '简单有趣的休闲游戏', count: 0, slug: 'casual' },
  { id: '2', name: '益智', description: '锻炼大脑的益智游戏', count: 0, slug: 'puzzle' },
  { id: '3', name: '动作', description: '刺激的动作游戏', count: 0, slug: 'action' },
];

export const games: Game[] = [
  {
    id: '1',
    title: 'Puzzle Quest',
    description: 'Match the gems.',
    category: '益智',
    categoryId: '2',
    thumbnail: '/games/thumbnails/1.jpg',
    path: '/games/puzzle-quest',
    featured: true,
    type: 'static',
    staticPath: '/games/puzzle-quest/index.html',
    addedAt: '2023-05-15',
    tags: ['puzzle']
  },
  {
    id: '2',
    title: 'Cave Runner',
    description: 'Run and jump.',
    category: '动作',
    categoryId: '3',
    thumbnail: '/games/thumbnails/2.jpg',
    path: '/games/cave-runner',
    featured: false,
    type: 'iframe',
    iframeUrl: 'https://html-classic.itch.zone/html/2/index.html',
    addedAt: '2023-06-20',
    tags: []
  }
];
`

// Test helper: create a server over a catalog file in a temp dir
func setupTestServer(t *testing.T, runs *journal.Store) (*Server, *gin.Engine, *catalog.Store) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "games.ts")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	store := catalog.NewStore(path, filepath.Join(dir, "backups"))
	scorer := trust.NewScorer(trust.DefaultTables(), trust.DefaultOptions())
	log, _ := test.NewNullLogger()

	server := NewServer(store, scorer, config.Default(), runs, log)
	server.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }
	return server, server.SetupRouter(), store
}

func doRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// TestHandleListGames verifies listing with filters and pagination.
func TestHandleListGames(t *testing.T) {
	_, router, _ := setupTestServer(t, nil)

	tests := []struct {
		name    string
		query   string
		wantIDs []string
		total   int
		limit   int
	}{
		{name: "all", query: "", wantIDs: []string{"1", "2"}, total: 2, limit: 50},
		{name: "category slug", query: "?category=action", wantIDs: []string{"2"}, total: 1, limit: 50},
		{name: "category id", query: "?category=2", wantIDs: []string{"1"}, total: 1, limit: 50},
		{name: "featured", query: "?featured=true", wantIDs: []string{"1"}, total: 1, limit: 50},
		{name: "limit", query: "?limit=1", wantIDs: []string{"1"}, total: 2, limit: 1},
		{name: "offset", query: "?limit=1&offset=1", wantIDs: []string{"2"}, total: 2, limit: 1},
		{name: "offset past end", query: "?offset=10", wantIDs: []string{}, total: 2, limit: 50},
		{name: "limit capped", query: "?limit=5000", wantIDs: []string{"1", "2"}, total: 2, limit: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodGet, "/api/v1/games"+tt.query, nil)
			require.Equal(t, http.StatusOK, w.Code)

			var resp ListGamesResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

			ids := []string{}
			for _, g := range resp.Games {
				ids = append(ids, g.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.total, resp.Total)
			assert.Equal(t, tt.limit, resp.Limit)
		})
	}
}

// TestHandleListGames_InvalidParameters verifies bad paging and filter
// values are rejected.
func TestHandleListGames_InvalidParameters(t *testing.T) {
	_, router, _ := setupTestServer(t, nil)

	for _, query := range []string{"?limit=0", "?limit=abc", "?offset=-1", "?featured=maybe"} {
		t.Run(query, func(t *testing.T) {
			w := doRequest(router, http.MethodGet, "/api/v1/games"+query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid_parameter", decodeError(t, w).Error.Code)
		})
	}
}

// TestHandleGetGame verifies lookup by id.
func TestHandleGetGame(t *testing.T) {
	_, router, _ := setupTestServer(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/games/2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rec catalog.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "Cave Runner", rec.Title)
	assert.Equal(t, catalog.KindEmbedded, rec.Kind)

	w = doRequest(router, http.MethodGet, "/api/v1/games/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w).Error.Code)
}

// TestHandleListCategories verifies counts are derived from the records.
func TestHandleListCategories(t *testing.T) {
	_, router, _ := setupTestServer(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Categories []catalog.Category `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Categories, 3)

	counts := map[string]int{}
	for _, c := range resp.Categories {
		counts[c.Slug] = c.Count
	}
	assert.Equal(t, map[string]int{"casual": 0, "puzzle": 1, "action": 1}, counts)
}

// TestHandleAddGame verifies a valid game is appended and saved.
func TestHandleAddGame(t *testing.T) {
	_, router, store := setupTestServer(t, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/games", AddGameRequest{
		Title:      "Block Stacker",
		CategoryID: "2",
		Type:       "iframe",
		IframeURL:  "https://html-classic.itch.zone/html/77/index.html",
		Tags:       []string{"blocks"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec catalog.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "3", rec.ID)
	assert.Equal(t, "益智", rec.Category)
	assert.Equal(t, "/games/block-stacker", rec.Path)
	assert.Equal(t, "2024-03-09", rec.AddedAt)
	assert.Equal(t, catalog.DefaultThumbnail, rec.Thumbnail)

	cat, err := store.Load()
	require.NoError(t, err)
	require.Len(t, cat.Records, 3)
	assert.Equal(t, "Block Stacker", cat.Records[2].Title)

	backups, err := os.ReadDir(filepath.Join(filepath.Dir(store.Path()), "backups"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

// TestHandleAddGame_Rejections verifies validation, trust and duplicate
// failures map to distinct responses and leave the catalog unchanged.
func TestHandleAddGame_Rejections(t *testing.T) {
	_, router, store := setupTestServer(t, nil)

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{
			name:     "malformed body",
			body:     map[string]any{"title": 42},
			wantCode: http.StatusBadRequest,
			wantErr:  "bad_request",
		},
		{
			name:     "missing type",
			body:     map[string]any{"title": "Some Game", "categoryId": "1"},
			wantCode: http.StatusBadRequest,
			wantErr:  "bad_request",
		},
		{
			name:     "title too short",
			body:     AddGameRequest{Title: "ab", CategoryID: "1", Type: "static", StaticPath: "/games/ab/index.html"},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_game",
		},
		{
			name:     "unknown category",
			body:     AddGameRequest{Title: "Some Game", CategoryID: "42", Type: "static", StaticPath: "/games/x/index.html"},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_game",
		},
		{
			name:     "duplicate title",
			body:     AddGameRequest{Title: "puzzle quest", CategoryID: "1", Type: "static", StaticPath: "/games/pq/index.html"},
			wantCode: http.StatusConflict,
			wantErr:  "conflict",
		},
		{
			name:     "duplicate url",
			body:     AddGameRequest{Title: "Cave Runner Two", CategoryID: "3", Type: "iframe", IframeURL: "https://html-classic.itch.zone/html/2/index.html"},
			wantCode: http.StatusConflict,
			wantErr:  "conflict",
		},
		{
			name:     "untrusted embed",
			body:     AddGameRequest{Title: "Free Prize", CategoryID: "1", Type: "iframe", IframeURL: "https://example.com/ads/popup"},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "untrusted_embed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodPost, "/api/v1/games", tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantErr, decodeError(t, w).Error.Code)
		})
	}

	cat, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, cat.Records, 2)
}

// TestHandleGetConfig verifies the effective configuration is returned.
func TestHandleGetConfig(t *testing.T) {
	_, router, _ := setupTestServer(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/meta/config", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cfg config.Config
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, config.Default().Trust.Threshold, cfg.Trust.Threshold)
	assert.Equal(t, config.Default().Crawl.Target, cfg.Crawl.Target)
}

// TestCORSPreflight verifies OPTIONS requests are answered by the
// middleware.
func TestCORSPreflight(t *testing.T) {
	_, router, _ := setupTestServer(t, nil)

	w := doRequest(router, http.MethodOptions, "/api/v1/games", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// TestRunRoutes verifies run history is served when a journal is present.
func TestRunRoutes(t *testing.T) {
	runs, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	run, err := runs.StartRun("crawl", 10)
	require.NoError(t, err)
	require.NoError(t, runs.RecordIssues(run.RunID, []journal.Issue{
		{Platform: "itch.io", URL: "https://itch.io/x", Kind: "no-embed", Message: "no embed found"},
	}))
	require.NoError(t, runs.FinishRun(run.RunID, journal.Outcome{Added: 3}))

	_, router, _ := setupTestServer(t, runs)

	w := doRequest(router, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs []journal.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, 3, list.Runs[0].Added)

	w = doRequest(router, http.MethodGet, "/api/v1/runs/"+run.RunID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Run    journal.Run     `json:"run"`
		Issues []journal.Issue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, journal.StatusSucceeded, detail.Run.Status)
	require.Len(t, detail.Issues, 1)
	assert.Equal(t, "no-embed", detail.Issues[0].Kind)

	w = doRequest(router, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestRunRoutes_WithoutJournal verifies run routes are absent without a
// journal.
func TestRunRoutes_WithoutJournal(t *testing.T) {
	_, router, _ := setupTestServer(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
