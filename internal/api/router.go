package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"fincapes/internal/activation"
	"fincapes/internal/auth"
	"fincapes/internal/config"
	"fincapes/internal/db"
	"fincapes/internal/email"
)

type Server struct {
	router *chi.Mux
	config *config.Config
}

func NewServer(
	cfg *config.Config,
	database *db.DB,
	mailer *email.Mailer,
) (*Server, error) {
	userRepo := db.NewUserRepository(database)
	profileRepo := db.NewProfileRepository(database)
	activationRepo := db.NewEmailActivationRepository(database)
	refreshTokenRepo := db.NewRefreshTokenRepository(database)
	contentRepo := db.NewContentRepository(database)

	jwtService := auth.NewJWTService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)

	lifecycle, err := activation.NewService(
		database,
		userRepo,
		activationRepo,
		mailer,
		cfg.Activation.Days,
		cfg.Activation.Timezone,
	)
	if err != nil {
		return nil, fmt.Errorf("initializing activation lifecycle: %w", err)
	}

	registerLimiter := NewRateLimiter(5, time.Minute)
	activateLimiter := NewRateLimiter(10, time.Minute)
	loginLimiter := NewRateLimiter(10, time.Minute)
	refreshLimiter := NewRateLimiter(30, time.Minute)

	authHandler := NewAuthHandler(userRepo, activationRepo, refreshTokenRepo, jwtService, lifecycle)
	userHandler := NewUserHandler(userRepo, profileRepo, refreshTokenRepo, mailer, cfg.Auth.InvitePasswordLength)
	contentHandler := NewContentHandler(contentRepo, userRepo)
	serverInfoHandler := NewServerInfoHandler(cfg.Server.Name, cfg.Activation.Days)
	healthHandler := NewHealthHandler(database)

	authMiddleware := NewAuthMiddleware(jwtService)

	ipResolver, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parsing trusted proxies: %w", err)
	}

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(clientIPMiddleware(ipResolver))
	r.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(maxBodySizeMiddleware(1 << 20)) // 1 MB
		r.Use(httprate.LimitByIP(300, time.Minute))

		r.Get("/server/info", serverInfoHandler.GetInfo)

		r.Route("/auth", func(r chi.Router) {
			r.With(RateLimitMiddleware(registerLimiter)).Post("/register", authHandler.Register)
			r.With(RateLimitMiddleware(activateLimiter)).Post("/activate", authHandler.Activate)
			r.With(RateLimitMiddleware(registerLimiter)).Post("/activate/resend", authHandler.ResendActivation)
			r.With(RateLimitMiddleware(loginLimiter)).Post("/login", authHandler.Login)
			r.With(RateLimitMiddleware(refreshLimiter)).Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireAuth)
				r.Post("/logout", authHandler.Logout)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Get("/me", userHandler.GetMe)
			r.Patch("/me/profile", userHandler.UpdateProfile)
			r.Post("/me/password", userHandler.ChangePassword)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireStaff)
				r.Post("/invite", userHandler.Invite)
			})
		})

		r.Route("/contents", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.OptionalAuth)
				r.Get("/", contentHandler.List)
				r.Get("/sliders", contentHandler.Sliders)
				r.Get("/{slug}", contentHandler.GetBySlug)
			})

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireAuth)
				r.Use(authMiddleware.RequireStaff)
				r.Post("/", contentHandler.Create)
				r.Patch("/{uid}", contentHandler.Update)
				r.Delete("/{uid}", contentHandler.Delete)
			})
		})
	})

	return &Server{
		router: r,
		config: cfg,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// corsMiddleware echoes configured origins back to the browser. Loopback
// origins are always allowed so local frontend dev needs no config changes.
// Requests without an Origin header (curl, same-origin) pass through untouched.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed[origin] && !isLoopbackOrigin(origin) {
				writeError(w, http.StatusForbidden, ErrCodeInvalidRequest, "Origin not allowed")
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// clientIPMiddleware rewrites RemoteAddr to the resolved client IP so that
// everything downstream (rate limiters, request logs) keys on the real client.
func clientIPMiddleware(resolver *ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.RemoteAddr = resolver.Resolve(r)
			next.ServeHTTP(w, r)
		})
	}
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}
