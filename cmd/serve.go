package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/cache"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/controller"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/factory"
	reconcilergrpc "github.com/vibast-solutions/ms-go-stripe-reconciler/app/grpc"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/provider"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/repository"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/service"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/types"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers for the payments reconciler.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	rt := mustCreateRuntime()
	defer rt.Close()
	cfg := rt.cfg

	reconcileController := controller.NewReconcileController(rt.reconcileService, rt.cache)
	healthServer := reconcilergrpc.NewServer(cfg.App.ServiceName, map[string]reconcilergrpc.DependencyCheck{
		"mysql": rt.db.PingContext,
		"redis": func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() },
	})

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)
	grpcInternalAuthMiddleware := authmiddleware.NewGRPCInternalAuthMiddleware(internalAuthService)

	e := setupHTTPServer(reconcileController, echoInternalAuthMiddleware, cfg.App.ServiceName)
	grpcSrv, lis := setupGRPCServer(cfg, healthServer, grpcInternalAuthMiddleware, cfg.App.ServiceName)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	reconcileController *controller.ReconcileController,
	internalAuthMiddleware *authmiddleware.EchoInternalAuthMiddleware,
	appServiceName string,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
				"request_id": v.RequestID,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(requireRequestID())
	e.Use(internalAuthMiddleware.RequireInternalAccess(appServiceName))

	e.GET("/health", reconcileController.Health)

	reconcile := e.Group("/reconcile")
	reconcile.POST("/abandoned-payments", reconcileController.CancelAbandonedPayments)
	reconcile.GET("/clock-offset", reconcileController.GetClockOffset)
	reconcile.POST("/clock-offset", reconcileController.RefreshClockOffset)

	e.DELETE("/cache/tags/:tag", reconcileController.PurgeCacheTag)

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func setupGRPCServer(
	cfg *config.Config,
	healthServer *reconcilergrpc.Server,
	internalAuthMiddleware *authmiddleware.GRPCInternalAuthMiddleware,
	appServiceName string,
) (*grpc.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			reconcilergrpc.RecoveryInterceptor(),
			reconcilergrpc.RequestIDInterceptor(),
			reconcilergrpc.LoggingInterceptor(),
			internalAuthMiddleware.UnaryRequireInternalAccess(appServiceName),
		),
	)
	healthpb.RegisterHealthServer(grpcSrv, healthServer)

	return grpcSrv, lis
}

// runtime owns the connections shared by the server and the jobs.
type runtime struct {
	cfg              *config.Config
	db               *sql.DB
	redis            *redis.Client
	cache            *cache.RedisCache
	reconcileService *service.ReconcileService
}

func mustCreateRuntime() *runtime {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	// The offset cache fails open, so an unreachable redis is only logged.
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logrus.WithError(err).Warn("Failed to ping redis")
	}
	offsetCache := cache.NewRedisCache(redisClient)

	tenants := make([]provider.Tenant, 0, len(cfg.Stripe.Tenants))
	for _, tenant := range cfg.Stripe.Tenants {
		tenants = append(tenants, provider.Tenant{
			StoreCode:      tenant.StoreCode,
			SecretKey:      tenant.SecretKey,
			PublishableKey: tenant.PublishableKey,
			Active:         tenant.Active,
		})
	}
	registry := provider.NewRegistry(tenants, provider.NewStripeGatewayFactory(provider.StripeConfig{
		APIBaseURL:  cfg.Stripe.APIBaseURL,
		HTTPTimeout: cfg.Stripe.HTTPTimeout,
		Logger:      factory.NewModuleLogger("stripe"),
	}))

	reconcileService := service.NewReconcileService(
		repository.NewOrderRepository(db),
		repository.NewCheckoutSessionRepository(db),
		repository.NewWebhookEndpointRepository(db),
		offsetCache,
		registry,
		cfg.Webhooks,
		cfg.Reconcile,
		factory.NewModuleLogger("reconcile"),
	)

	return &runtime{
		cfg:              cfg,
		db:               db,
		redis:            redisClient,
		cache:            offsetCache,
		reconcileService: reconcileService,
	}
}

func (rt *runtime) Close() {
	if err := rt.redis.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close redis")
	}
	if err := rt.db.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close database")
	}
}
