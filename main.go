package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/storage/memory/v2"
	"github.com/gofiber/storage/redis/v3"
	"github.com/hrkit/secgate/internal/audit"
	"github.com/hrkit/secgate/internal/common"
	"github.com/hrkit/secgate/internal/config"
	"github.com/hrkit/secgate/internal/handlers/api"
	"github.com/hrkit/secgate/internal/middlewares"
	"github.com/hrkit/secgate/internal/middlewares/sessions"
	"github.com/hrkit/secgate/internal/security/csrf"
	"github.com/hrkit/secgate/internal/security/password"
	"github.com/hrkit/secgate/internal/security/ratelimit"
	"github.com/hrkit/secgate/internal/users"
	"github.com/hrkit/secgate/model"
	"github.com/hrkit/secgate/params"
	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var (
	app       *cli.App
	gitCommit string
	gitDate   string
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "YAML config file",
		Value: "config.yaml",
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
)

func init() {
	app = cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = "secgate - security gateway for the HR platform API"
	app.Flags = []cli.Flag{
		configFileFlag,
		debugFlag,
	}
	app.Commands = []*cli.Command{
		{
			Name: "version",
			Action: func(ctx *cli.Context) error {
				fmt.Println(params.VersionWithCommit(gitCommit, gitDate))
				return nil
			},
		},
	}
	app.Action = run
}

func mustInitLogger(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

func mustInitDatabase(dbConfig config.MySQLConfig) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dbConfig.Dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   dbConfig.TablePrefix,
			SingularTable: true,
		},
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("Failed to access database pool", "error", err)
		os.Exit(1)
	}
	if dbConfig.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
	}
	if dbConfig.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
	}
	if dbConfig.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(dbConfig.ConnMaxIdleTime) * time.Second)
	}
	if dbConfig.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Second)
	}

	if err := model.AutoMigrate(db); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	return db
}

func mustInitRedisStorage(redisCfg config.RedisConfig) *redis.Storage {
	return redis.New(redis.Config{
		URL:           redisCfg.URL,
		PoolSize:      redisCfg.PoolSize,
		IsClusterMode: redisCfg.ClusterMode,
	})
}

func setupAPIRoutes(
	router fiber.Router,
	limiter *ratelimit.Limiter,
	csrfManager *csrf.Manager,
	userService *users.UserService) {

	var (
		authHandler     = api.NewAuthHandler(userService, csrfManager)
		securityHandler = api.NewSecurityHandler(csrfManager)
	)

	apiGroup := router.Group("/api", ratelimit.Guard(limiter, ratelimit.PublicRule))
	authGroup := apiGroup.Group("/auth")
	authGroup.Get("/csrf-token", securityHandler.GetCSRFToken)
	authGroup.Post("/login", ratelimit.Guard(limiter, ratelimit.AuthRule), authHandler.PostLogin)
	authGroup.Post("/register", ratelimit.Guard(limiter, ratelimit.AuthRule), authHandler.PostRegister)
	authGroup.Post("/logout", authHandler.PostLogout)
	authGroup.Post("/change-password", ratelimit.Guard(limiter, ratelimit.UserRule), authHandler.PostChangePassword)
}

func run(ctx *cli.Context) error {
	config, err := config.LoadConfig(ctx.String(configFileFlag.Name))
	if err != nil {
		slog.Error("Could not load config file.", "error", err)
		return err
	}

	mustInitLogger(config.Debug || ctx.IsSet(debugFlag.Name))

	db := mustInitDatabase(config.MySQL)
	audit.Initialize(audit.NewAuditEventRepository(db))

	var sessionStorage fiber.Storage
	var redisStorage *redis.Storage
	if config.Redis.URL != "" {
		redisStorage = mustInitRedisStorage(config.Redis)
		sessionStorage = redisStorage
	} else {
		slog.Warn("No redis configured, using in-memory session storage")
		sessionStorage = memory.New()
	}

	// repositories and services
	var (
		userRepo = users.NewUserRepository(db)
		pwEngine = password.NewEngine(password.Config{
			Argon2: password.Argon2Params{
				Memory:      config.Password.Argon2.Memory,
				Time:        config.Password.Argon2.Time,
				Parallelism: config.Password.Argon2.Parallelism,
			},
			HistoryLimit: config.Password.HistoryLimit,
			MaxAgeDays:   config.Password.MaxAgeDays,
		})
		userService = users.NewUserService(userRepo, pwEngine)
	)

	// stateful security components
	var (
		csrfManager = csrf.NewManager(config.CSRF.TokenTTL)
		limiter     = ratelimit.NewLimiter()
		ipMonitor   = middlewares.NewIPMonitor(config.IPMonitor.MaxRequestsPerMinute, config.IPMonitor.BlockDuration)
	)
	csrfManager.Start()
	defer csrfManager.Stop()
	limiter.Start()
	defer limiter.Stop()
	ipMonitor.Start()
	defer ipMonitor.Stop()

	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		BodyLimit:     params.ServerBodyLimit,
		IdleTimeout:   params.ServerIdleTimeout,
		ReadTimeout:   params.ServerReadTimeout,
		WriteTimeout:  params.ServerWriteTimeout,
		ErrorHandler:  middlewares.ErrorHandler,
	})

	router.Use(recover.New())
	router.Use(logger.New())
	router.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(config.AllowOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-CSRF-Token",
	}))

	router.Use(middlewares.SecurityHeaders(config.IsProduction()))
	router.Use(middlewares.RequestGuard())
	router.Use(ipMonitor.Handler())
	router.Use(sessions.New(sessions.Config{
		Storage:        sessionStorage,
		SessionMaxAge:  config.Session.SessionMaxAge,
		CookieSecure:   config.Session.CookieSecure,
		CookieHttpOnly: config.Session.CookieHttpOnly,
		CookieName:     config.Session.CookieName,
	}))
	router.Use(middlewares.Identity(config.JWT.Secret))
	router.Use(middlewares.ThreatGuard())
	router.Use(middlewares.CSRFGuard(config.CSRF.ExemptPaths))

	setupAPIRoutes(router, limiter, csrfManager, userService)

	healthCheckCtx, term := context.WithCancel(ctx.Context)
	done := make(chan struct{})
	var redisConn goredis.UniversalClient
	if redisStorage != nil {
		redisConn = redisStorage.Conn()
	}
	go common.StartHealthCheckServer(healthCheckCtx, done, config.HealthCheckAddr, redisConn, db)
	defer func() {
		term()
		<-done
	}()
	return router.Listen(config.ListenAddr)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
