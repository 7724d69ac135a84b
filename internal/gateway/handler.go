package gateway

import (
	"context"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/bizmatters/dsstar-orchestrator/internal/auth"
	"github.com/bizmatters/dsstar-orchestrator/internal/models"
	"github.com/bizmatters/dsstar-orchestrator/internal/orchestration"
	"github.com/bizmatters/dsstar-orchestrator/internal/store"
)

// Handler handles HTTP requests for the gateway layer.
type Handler struct {
	manager     *orchestration.Manager
	jwtManager  *auth.JWTManager
	pool        *pgxpool.Pool
	artifactDir string
}

// NewHandler creates a new gateway handler.
func NewHandler(manager *orchestration.Manager, jwtManager *auth.JWTManager, pool *pgxpool.Pool, artifactDir string) *Handler {
	return &Handler{
		manager:     manager,
		jwtManager:  jwtManager,
		pool:        pool,
		artifactDir: artifactDir,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var userID string
	var hashedPassword string
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, hashed_password FROM users WHERE email = $1`,
		req.Email,
	).Scan(&userID, &hashedPassword)

	if err != nil {
		log.Printf(`{"level":"warn","message":"User not found","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		log.Printf(`{"level":"warn","message":"Invalid password","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := h.jwtManager.GenerateToken(
		c.Request.Context(),
		userID,
		req.Email,
		[]string{"user"},
		24*time.Hour,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:  token,
		UserID: userID,
	})
}

// CreateRunRequest starts a new synthesis run.
type CreateRunRequest struct {
	Prompt       string `json:"prompt" binding:"required"`
	MaxIters     int    `json:"max_iters"`
	PlannerModel string `json:"planner_model"`
	CoderModel   string `json:"coder_model"`
	CriticModel  string `json:"critic_model"`
	RuntimeModel string `json:"runtime_model"`
}

// CreateRunResponse is returned immediately after a run is accepted.
type CreateRunResponse struct {
	RunID string `json:"run_id"`
}

// CreateRun godoc
// @Summary Start a synthesis run
// @Description Submits a natural-language app request to the DS-Star pipeline and returns a run ID immediately
// @Tags runs
// @Accept json
// @Produce json
// @Param request body CreateRunRequest true "Run request"
// @Success 202 {object} CreateRunResponse
// @Failure 400 {object} map[string]string
// @Security BearerAuth
// @Router /runs [post]
func (h *Handler) CreateRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	userID := userIDVal.(string)

	runID, err := h.manager.Submit(c.Request.Context(), userID, orchestration.Request{
		Prompt:       req.Prompt,
		MaxIters:     req.MaxIters,
		PlannerModel: req.PlannerModel,
		CoderModel:   req.CoderModel,
		CriticModel:  req.CriticModel,
		RuntimeModel: req.RuntimeModel,
	})
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to submit run","error":"%v","user_id":"%s"}`, err, userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit run"})
		return
	}

	go h.recordRunIndex(runID, userID, req.Prompt)

	c.Header("Location", "/api/runs/"+runID)
	c.JSON(http.StatusAccepted, CreateRunResponse{RunID: runID})
}

// GetRun godoc
// @Summary Get run status
// @Description Returns the current status of a run, falling back to disk if it is no longer in memory
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} orchestration.RunResult
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /runs/{id} [get]
func (h *Handler) GetRun(c *gin.Context) {
	runID := c.Param("id")

	if result, done, found := h.manager.Status(runID); found {
		if !done {
			c.JSON(http.StatusOK, gin.H{"run_id": runID, "status": "running"})
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	// The manager only tracks runs since process start; fall back to the
	// artifact directory for a run that finished before a restart.
	var summary orchestration.RunSummary
	if err := readSummaryByRunID(h.artifactDir, runID, &summary); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "status": "completed", "summary": summary})
}

// ListRuns godoc
// @Summary List runs
// @Description Lists the caller's run IDs: run_index rows oldest first when a database is configured, plus runs submitted to this process
// @Tags runs
// @Produce json
// @Success 200 {object} map[string][]string
// @Security BearerAuth
// @Router /runs [get]
// ListRuns lists the caller's own runs. When a Postgres pool is wired it
// queries the run_index projection so completed runs from prior process
// lifetimes are included; otherwise it falls back to the in-memory
// manager, which only knows about runs submitted to this process.
func (h *Handler) ListRuns(c *gin.Context) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	userID := userIDVal.(string)

	if h.pool == nil {
		c.JSON(http.StatusOK, gin.H{"run_ids": h.manager.ListForUser(userID)})
		return
	}

	rows, err := h.pool.Query(c.Request.Context(),
		`SELECT id FROM run_index WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		log.Printf(`{"level":"error","msg":"failed to query run_index","user_id":"%s","error":"%v"}`, userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}
	defer rows.Close()

	runIDs := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			log.Printf(`{"level":"error","msg":"failed to scan run_index row","user_id":"%s","error":"%v"}`, userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
			return
		}
		runIDs = append(runIDs, id)
	}
	if err := rows.Err(); err != nil {
		log.Printf(`{"level":"error","msg":"failed reading run_index rows","user_id":"%s","error":"%v"}`, userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}

	// A run this process just submitted may not have reached run_index yet
	// (recordRunIndex writes it asynchronously once the run finishes), so
	// merge in the manager's own view of the caller's in-flight runs.
	seen := make(map[string]struct{}, len(runIDs))
	for _, id := range runIDs {
		seen[id] = struct{}{}
	}
	for _, id := range h.manager.ListForUser(userID) {
		if _, ok := seen[id]; !ok {
			runIDs = append(runIDs, id)
			seen[id] = struct{}{}
		}
	}

	c.JSON(http.StatusOK, gin.H{"run_ids": runIDs})
}

// recordRunIndex writes a best-effort audit row once the run finishes. A
// failure here never affects the run's reported outcome, only the /runs
// listing's completeness against Postgres.
func (h *Handler) recordRunIndex(runID, userID, prompt string) {
	deadline := time.Now().Add(30 * time.Minute)
	for time.Now().Before(deadline) {
		result, done, found := h.manager.Status(runID)
		if found && done {
			row := models.RunIndexRow{
				ID:              runID,
				UserID:          userID,
				Prompt:          prompt,
				Success:         result.Success,
				Fallback:        result.Summary.Fallback,
				TotalIterations: result.Summary.TotalIterations,
				ArtifactDir:     filepath.Dir(result.FinalHTMLPath),
				CreatedAt:       result.Summary.Timestamp,
				CompletedAt:     result.Summary.Timestamp,
			}
			if err := h.upsertRunIndex(row); err != nil {
				log.Printf(`{"level":"warn","message":"Failed to record run index","run_id":"%s","error":"%v"}`, runID, err)
			}
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func (h *Handler) upsertRunIndex(row models.RunIndexRow) error {
	if h.pool == nil {
		return nil
	}
	_, err := h.pool.Exec(context.Background(),
		`INSERT INTO run_index (id, user_id, prompt, success, fallback, total_iterations, artifact_dir, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET success = EXCLUDED.success, fallback = EXCLUDED.fallback,
			total_iterations = EXCLUDED.total_iterations, completed_at = EXCLUDED.completed_at`,
		row.ID, row.UserID, row.Prompt, row.Success, row.Fallback, row.TotalIterations,
		row.ArtifactDir, row.CreatedAt, row.CompletedAt,
	)
	return err
}

// readSummaryByRunID scans the artifact root for a run directory suffixed
// with runID, since directory names are timestamp-prefixed for readability.
func readSummaryByRunID(root, runID string, out *orchestration.RunSummary) error {
	matches, err := filepath.Glob(filepath.Join(root, "dsstar_*_"+runID))
	if err != nil || len(matches) == 0 {
		return store.ErrRunNotFound
	}
	return store.ReadSummary(filepath.Dir(matches[0]), filepath.Base(matches[0]), out)
}
