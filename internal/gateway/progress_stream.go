package gateway

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/dsstar-orchestrator/internal/auth"
	"github.com/bizmatters/dsstar-orchestrator/internal/orchestration"
)

var progressUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the deployed frontend origin
		return true
	},
}

// ProgressStream serves a run's progress events over a WebSocket: it
// replays every event already published, then forwards live ones until
// the run finishes and the manager closes the subscription.
type ProgressStream struct {
	manager    *orchestration.Manager
	jwtManager *auth.JWTManager
	tracer     trace.Tracer
}

// NewProgressStream wraps manager with a WebSocket-facing progress feed.
func NewProgressStream(manager *orchestration.Manager, jwtManager *auth.JWTManager) *ProgressStream {
	return &ProgressStream{
		manager:    manager,
		jwtManager: jwtManager,
		tracer:     otel.Tracer("progress-stream"),
	}
}

// Stream handles GET /api/ws/runs/:id, upgrading to a WebSocket and
// forwarding orchestration.Event values as JSON text frames.
// @Summary Stream run progress
// @Description WebSocket endpoint that replays and streams phase-transition events for a run
// @Tags runs
// @Param id path string true "Run ID"
// @Param token query string false "JWT (fallback to Authorization header)"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /ws/runs/{id} [get]
func (p *ProgressStream) Stream(c *gin.Context) {
	ctx, span := p.tracer.Start(c.Request.Context(), "progress_stream.stream")
	defer span.End()

	runID := c.Param("id")
	span.SetAttributes(attribute.String("run.id", runID))

	if _, err := p.authenticate(c); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	history, ch, unsubscribe, found := p.manager.Subscribe(runID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	defer unsubscribe()

	conn, err := progressUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		log.Printf("progress_stream: failed to upgrade connection for run %s: %v", runID, err)
		return
	}
	defer conn.Close()

	// Drain client reads on a goroutine so a client disconnect is noticed
	// promptly; the stream is one-way from server to client.
	closed := make(chan struct{})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(closed)
				return
			}
		}
	}()

	for _, e := range history {
		if err := conn.WriteJSON(e); err != nil {
			log.Printf("progress_stream: write error for run %s: %v", runID, err)
			return
		}
		if e.Type == orchestration.EventComplete {
			return
		}
	}

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				log.Printf("progress_stream: write error for run %s: %v", runID, err)
				return
			}
			if e.Type == orchestration.EventComplete {
				return
			}
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// authenticate accepts a JWT from either the token query parameter (needed
// since browser WebSocket clients cannot set an Authorization header) or a
// standard Bearer header.
func (p *ProgressStream) authenticate(c *gin.Context) (string, error) {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		return "", errMissingToken
	}
	claims, err := p.jwtManager.ValidateToken(c.Request.Context(), token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
