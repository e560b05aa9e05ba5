package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"rollcall/internal/admission"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/logging"
	"rollcall/internal/metrics"
	"rollcall/internal/observability"
	"rollcall/internal/profile"
	"rollcall/internal/queue"
	"rollcall/internal/similarity"
	"rollcall/internal/store"
	"rollcall/internal/ticket"
)

func main() {
	// .env is optional; plain environment variables work too.
	_ = godotenv.Load()
	cfg := config.Load()

	logg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logg.Closer()
	log := logg.Sugar

	closeSentry, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, "rollcall-api")
	if err != nil {
		log.Warnw("sentry init failed", "err", err)
	}
	defer closeSentry()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatalw("http server failed", "err", err)
	}
}

func runHTTP(cfg config.App, log *zap.SugaredLogger) error {
	var (
		db          *store.DB
		ticketStore ticket.Store
		recordStore admission.RecordStore
	)
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Warnw("db not reachable, falling back to in-memory stores", "err", err)
		if db != nil {
			_ = db.Close()
		}
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	if db != nil {
		if err := store.Migrate(db.Client); err != nil {
			return err
		}
		ticketStore = ticket.NewRepository(db.Client)
		recordStore = admission.NewRepository(db.Client)
	} else {
		ticketMem := ticket.NewMemStore()
		recordMem := admission.NewMemStore(ticketMem)
		ticketMem.OnDelete(recordMem.DeleteByTicket)
		ticketStore = ticketMem
		recordStore = recordMem
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" || db == nil {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:admissions")
	}

	profiles := profile.New(cfg.ProfileServiceURL, cfg.ProfileSkip)
	tickets := ticket.NewService(ticketStore, cfg.ExpiryBuffer, cfg.DefaultCapacity)
	gate := admission.NewGate(tickets, recordStore, profiles, cfg.AdmissionThreshold, cfg.VerifiedThreshold)
	ledger := admission.NewLedger(recordStore, cfg.LateGrace)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/healthz", healthzHandler(db, redisClient))

	r.POST("/v1/staff/register", func(c *gin.Context) {
		var req struct {
			StaffID string `json:"staff_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.StaffID, "staff", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	// Attendance presentation is public: the ticket token is the credential.
	r.POST("/v1/attendance", func(c *gin.Context) {
		var req struct {
			TicketID  string    `json:"ticket_id" binding:"required"`
			Token     string    `json:"token" binding:"required"`
			SubjectID string    `json:"subject_id" binding:"required"`
			Method    string    `json:"method" binding:"required"`
			Proof     []float32 `json:"proof"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		method := admission.Method(req.Method)
		if method != admission.MethodTokenOnly && method != admission.MethodBiometric {
			c.JSON(http.StatusBadRequest, gin.H{"error": "method must be token_only or biometric"})
			return
		}

		now := time.Now().UTC()
		cand, err := gate.Present(c.Request.Context(), req.TicketID, req.Token, req.SubjectID, method, req.Proof, now)
		if err != nil {
			respondAdmissionError(c, err)
			return
		}
		rec, err := ledger.Admit(c.Request.Context(), cand)
		if err != nil {
			respondAdmissionError(c, err)
			return
		}
		metrics.ObserveAdmission("accepted")

		if err := q.Publish(c.Request.Context(), queue.AdmissionEvent{
			RecordID:  rec.ID,
			SubjectID: rec.SubjectID,
			TicketID:  rec.TicketID,
			Status:    string(rec.Status),
			Method:    string(rec.Method),
			Verified:  rec.Verified,
			MarkedAt:  rec.MarkedAt,
		}); err != nil {
			log.Warnw("queue publish failed", "record", rec.ID, "err", err)
		}

		c.JSON(http.StatusCreated, rec)
	})

	staff := r.Group("/v1", auth.StaffAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	staff.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Subject       string    `json:"subject" binding:"required"`
			Description   string    `json:"description"`
			Location      string    `json:"location"`
			ScheduleStart time.Time `json:"schedule_start" binding:"required"`
			ScheduleEnd   time.Time `json:"schedule_end" binding:"required"`
			Capacity      int       `json:"capacity"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		t, err := tickets.Create(c.Request.Context(), ticket.CreateParams{
			OwnerID:       claimsSubject(c),
			Subject:       req.Subject,
			Description:   req.Description,
			Location:      req.Location,
			ScheduleStart: req.ScheduleStart,
			ScheduleEnd:   req.ScheduleEnd,
			Capacity:      req.Capacity,
		})
		if err != nil {
			respondTicketError(c, err)
			return
		}
		metrics.TicketsCreated.Inc()
		c.JSON(http.StatusCreated, gin.H{"ticket": t, "code": encodePayload(t)})
	})

	staff.GET("/sessions/:id", func(c *gin.Context) {
		t, err := tickets.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondTicketError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ticket": t})
	})

	staff.POST("/sessions/:id/regenerate-token", func(c *gin.Context) {
		t, err := ownedTicket(c, tickets)
		if err != nil {
			return
		}
		t, err = tickets.RegenerateToken(c.Request.Context(), t.ID)
		if err != nil {
			respondTicketError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ticket": t, "code": encodePayload(t)})
	})

	staff.PATCH("/sessions/:id", func(c *gin.Context) {
		t, err := ownedTicket(c, tickets)
		if err != nil {
			return
		}
		var req struct {
			Subject     *string `json:"subject"`
			Description *string `json:"description"`
			Location    *string `json:"location"`
			Capacity    *int    `json:"capacity"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		t, err = tickets.Modify(c.Request.Context(), t.ID, ticket.Patch{
			Subject:     req.Subject,
			Description: req.Description,
			Location:    req.Location,
			Capacity:    req.Capacity,
		})
		if err != nil {
			respondTicketError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ticket": t})
	})

	staff.DELETE("/sessions/:id", func(c *gin.Context) {
		t, err := ownedTicket(c, tickets)
		if err != nil {
			return
		}
		if err := tickets.Delete(c.Request.Context(), t.ID); err != nil {
			respondTicketError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	staff.POST("/sessions/:id/revoke", func(c *gin.Context) {
		t, err := ownedTicket(c, tickets)
		if err != nil {
			return
		}
		if err := tickets.Revoke(c.Request.Context(), t.ID); err != nil {
			respondTicketError(c, err)
			return
		}
		metrics.TicketsRevoked.Inc()
		c.Status(http.StatusNoContent)
	})

	staff.GET("/attendance", func(c *gin.Context) {
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		records, err := ledger.List(c.Request.Context(), c.Query("subject"), c.Query("ticket"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	staff.PATCH("/attendance/:id", func(c *gin.Context) {
		var req struct {
			Status     *string `json:"status"`
			Annotation *string `json:"annotation"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var status *admission.Status
		if req.Status != nil {
			s := admission.Status(*req.Status)
			status = &s
		}
		rec, err := ledger.Revise(c.Request.Context(), c.Param("id"), status, req.Annotation)
		if err != nil {
			respondAdmissionError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	staff.DELETE("/attendance/:id", func(c *gin.Context) {
		if err := ledger.Remove(c.Request.Context(), c.Param("id")); err != nil {
			respondAdmissionError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("starting server", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server error", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("server forced shutdown", "err", err)
	}
	log.Info("server exited")
	return nil
}

// claimsSubject returns the authenticated staff principal.
func claimsSubject(c *gin.Context) string {
	claimsAny, _ := c.Get("claims")
	claims, _ := claimsAny.(auth.Claims)
	return claims.Subject
}

// ownedTicket loads the path ticket and enforces that the caller owns it.
// On failure it writes the response and returns a non-nil error.
func ownedTicket(c *gin.Context, tickets *ticket.Service) (ticket.Ticket, error) {
	t, err := tickets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondTicketError(c, err)
		return ticket.Ticket{}, err
	}
	if owner := claimsSubject(c); owner != "" && owner != t.OwnerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the ticket owner"})
		return ticket.Ticket{}, errors.New("ownership mismatch")
	}
	return t, nil
}

// encodePayload renders the scannable-code payload as base64url(JSON).
func encodePayload(t ticket.Ticket) string {
	raw, _ := json.Marshal(t.Payload())
	return base64.URLEncoding.EncodeToString(raw)
}

func respondTicketError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ticket.ErrAlreadyStarted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ticket.ErrInvalidSchedule), errors.Is(err, ticket.ErrPastDate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func respondAdmissionError(c *gin.Context, err error) {
	var dup *admission.DuplicateError
	if errors.As(err, &dup) {
		metrics.ObserveAdmission("duplicate")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "record": dup.Existing})
		return
	}
	switch {
	case errors.Is(err, admission.ErrDuplicateAdmission):
		metrics.ObserveAdmission("duplicate")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, admission.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, admission.ErrInvalidTicket):
		metrics.ObserveAdmission("invalid_ticket")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, admission.ErrNotStarted):
		metrics.ObserveAdmission("not_started")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, admission.ErrBiometricNotRegistered):
		metrics.ObserveAdmission("not_registered")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, admission.ErrMissingProof):
		metrics.ObserveAdmission("missing_proof")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, admission.ErrLowConfidence):
		metrics.ObserveAdmission("low_confidence")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, admission.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, similarity.ErrDimensionMismatch):
		metrics.ObserveAdmission("dimension_mismatch")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		metrics.ObserveAdmission("error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CORS middleware for browser requests
// healthzHandler pings both backends so a connection that died after startup
// flips the probe. A nil db means dev fallback; the process is still serving.
func healthzHandler(db *store.DB, redisClient *store.Redis) gin.HandlerFunc {
	return func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := false
		if db != nil {
			dbHealthy = db.Client.PingContext(c.Request.Context()) == nil
		}
		status := http.StatusOK
		if db != nil && (!redisHealthy || !dbHealthy) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
