package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/dsstar-orchestrator/internal/agent"
	"github.com/bizmatters/dsstar-orchestrator/internal/auth"
	"github.com/bizmatters/dsstar-orchestrator/internal/gateway"
	"github.com/bizmatters/dsstar-orchestrator/internal/metrics"
	"github.com/bizmatters/dsstar-orchestrator/internal/orchestration"
	"github.com/bizmatters/dsstar-orchestrator/tests/helpers"
)

func TestAuthenticationIntegration(t *testing.T) {
	testDB := helpers.NewTestDatabase(t)
	defer testDB.Close()

	txCtx, rollback := testDB.BeginTransaction(t)
	defer rollback()

	t.Setenv("JWT_SECRET", "test-secret-key-for-auth-integration-tests")
	jwtManager, err := auth.NewJWTManager()
	require.NoError(t, err)

	runMetrics, err := metrics.NewRunMetrics()
	require.NoError(t, err)

	agents := orchestration.Agents{
		Planner: agent.NewStaticClient(helpers.ValidPlanJSON),
		Coder:   agent.NewStaticClient(helpers.CleanHTML),
		Critic:  agent.NewStaticClient(helpers.ApprovedVerdictJSON, helpers.ApprovedVerdictJSON),
	}
	orch := orchestration.New(agents, t.TempDir(), runMetrics)
	manager := orchestration.NewManager(orch)

	gatewayHandler := gateway.NewHandler(manager, jwtManager, testDB.Pool, t.TempDir())

	gin.SetMode(gin.TestMode)
	router := gin.New()

	api := router.Group("/api")
	api.POST("/auth/login", gatewayHandler.Login)
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	protected := api.Group("")
	protected.Use(auth.RequireAuth(jwtManager))
	protected.POST("/runs", gatewayHandler.CreateRun)
	protected.GET("/protected", func(c *gin.Context) {
		userID, _ := c.Get("user_id")
		username, _ := c.Get("username")
		c.JSON(http.StatusOK, gin.H{
			"user_id": userID,
			"email":   username,
			"message": "Access granted",
		})
	})

	t.Run("JWT Token Generation and Validation", func(t *testing.T) {
		userID := "test-user-123"
		username := "test@example.com"

		token, err := jwtManager.GenerateToken(context.Background(), userID, username, []string{}, 24*time.Hour)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		claims, err := jwtManager.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, username, claims.Username)
		assert.True(t, claims.ExpiresAt.After(time.Now()))
	})

	t.Run("Protected Endpoint Access", func(t *testing.T) {
		userEmail := fmt.Sprintf("protected-auth-%d@example.com", time.Now().UnixNano())
		userID := testDB.CreateTestUserWithContext(t, txCtx, userEmail, "hashed-password")
		token, err := jwtManager.GenerateToken(context.Background(), userID, userEmail, []string{}, 24*time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

		assert.Equal(t, userID, response["user_id"])
		assert.Equal(t, userEmail, response["email"])
		assert.Equal(t, "Access granted", response["message"])
	})

	t.Run("Authentication Required", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Invalid Token Formats", func(t *testing.T) {
		testCases := []struct {
			name   string
			header string
		}{
			{"Missing Bearer prefix", "invalid-token"},
			{"Empty Bearer", "Bearer "},
			{"Invalid JWT format", "Bearer invalid.jwt.token"},
			{"Malformed header", "NotBearer token"},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				req := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
				req.Header.Set("Authorization", tc.header)
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)

				assert.Equal(t, http.StatusUnauthorized, w.Code)
			})
		}
	})

	t.Run("Run Creation Requires Authentication But Then Succeeds", func(t *testing.T) {
		userEmail := fmt.Sprintf("claims-auth-%d@example.com", time.Now().UnixNano())
		userID := testDB.CreateTestUserWithContext(t, txCtx, userEmail, "hashed-password")
		token, err := jwtManager.GenerateToken(context.Background(), userID, userEmail, []string{}, 24*time.Hour)
		require.NoError(t, err)

		runReq := helpers.CreateTestRunRequest("build a todo app", 2)
		runBody, _ := json.Marshal(runReq)

		req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBuffer(runBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotEmpty(t, response["run_id"])
	})

	t.Run("Public Endpoints No Auth Required", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Multiple Concurrent Requests", func(t *testing.T) {
		userEmail := fmt.Sprintf("concurrent-auth-%d@example.com", time.Now().UnixNano())
		userID := testDB.CreateTestUserWithContext(t, txCtx, userEmail, "hashed-password")
		token, err := jwtManager.GenerateToken(context.Background(), userID, userEmail, []string{}, 24*time.Hour)
		require.NoError(t, err)

		const numRequests = 10
		results := make(chan int, numRequests)

		for i := 0; i < numRequests; i++ {
			go func() {
				req := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
				req.Header.Set("Authorization", "Bearer "+token)
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)
				results <- w.Code
			}()
		}

		for i := 0; i < numRequests; i++ {
			select {
			case statusCode := <-results:
				assert.Equal(t, http.StatusOK, statusCode)
			case <-time.After(5 * time.Second):
				t.Fatal("Timeout waiting for concurrent requests")
			}
		}
	})

	t.Run("Login Integration with Database", func(t *testing.T) {
		userEmail := fmt.Sprintf("login-auth-%d@example.com", time.Now().UnixNano())
		testPassword := "test-password-123"

		hashedPassword, err := testDB.HashPassword(testPassword)
		require.NoError(t, err)

		userID := testDB.CreateTestUserWithContext(t, txCtx, userEmail, hashedPassword)

		loginReq := helpers.CreateTestLoginRequest(userEmail, testPassword)
		loginBody, _ := json.Marshal(loginReq)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBuffer(loginBody))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

		assert.NotEmpty(t, response["token"])
		assert.Equal(t, userID, response["user_id"])

		token := response["token"].(string)
		req = httptest.NewRequest(http.MethodGet, "/api/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		loginReq["password"] = "wrong-password"
		loginBody, _ = json.Marshal(loginReq)

		req = httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBuffer(loginBody))
		req.Header.Set("Content-Type", "application/json")
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestJWTManagerEdgeCases(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-key-for-jwt-edge-cases")
	jwtManager, err := auth.NewJWTManager()
	require.NoError(t, err)

	t.Run("Empty User ID", func(t *testing.T) {
		token, err := jwtManager.GenerateToken(context.Background(), "", "test@example.com", []string{}, 24*time.Hour)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		claims, err := jwtManager.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "", claims.UserID)
	})

	t.Run("Special Characters in Claims", func(t *testing.T) {
		userID := "user-with-special-chars-!@#$%"
		username := "test+special@example-domain.co.uk"

		token, err := jwtManager.GenerateToken(context.Background(), userID, username, []string{}, 24*time.Hour)
		require.NoError(t, err)

		claims, err := jwtManager.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, username, claims.Username)
	})

	t.Run("Very Long Claims", func(t *testing.T) {
		longUserID := strings.Repeat("a", 1000)
		longUsername := strings.Repeat("b", 500) + "@example.com"

		token, err := jwtManager.GenerateToken(context.Background(), longUserID, longUsername, []string{}, 24*time.Hour)
		require.NoError(t, err)

		claims, err := jwtManager.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, longUserID, claims.UserID)
		assert.Equal(t, longUsername, claims.Username)
	})

	t.Run("Malformed Token Validation", func(t *testing.T) {
		malformedTokens := []string{
			"",
			"not.a.jwt",
			"header.payload",
			"too.many.parts.here.invalid",
			"invalid-base64.invalid-base64.invalid-base64",
		}

		for _, token := range malformedTokens {
			_, err := jwtManager.ValidateToken(context.Background(), token)
			assert.Error(t, err, "Should fail for token: %s", token)
		}
	})
}
