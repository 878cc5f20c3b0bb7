package main

import (
	"context"
	"errors"
	"fmt"
	"gallery/batch"
	"gallery/config"
	"gallery/handlers"
	"gallery/processing"
	"gallery/utils"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/autotls"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gallery",
		Short: "Photo gallery server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	setupFlags(rootCmd)
	rootCmd.AddCommand(serveCommand(), importCommand(), recountCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("tls-domains", defaults.GetString("tls.domains"), "Comma separated domains for automatic TLS")
	cmd.PersistentFlags().Bool("debug", defaults.GetBool("debug"), "Debug mode")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("mysql-dsn", defaults.GetString("database.mysql_dsn"), "MySQL DSN, SQLite is used when empty")
	cmd.PersistentFlags().String("sqlite-file", defaults.GetString("database.sqlite_file"), "SQLite database path")
	cmd.PersistentFlags().String("public-dir", defaults.GetString("storage.public_dir"), "Directory of the public storage bucket")
	cmd.PersistentFlags().String("private-dir", defaults.GetString("storage.private_dir"), "Directory of the private storage bucket")
	cmd.PersistentFlags().String("counter-mode", defaults.GetString("photos.counter_mode"), "Counter mode (immediate, deferred)")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("cache.redis_addr"), "Redis address for cache tags, in-memory when empty")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "tls.domains", "tls-domains")
	bindFlag(cmd, "debug", "debug")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "database.mysql_dsn", "mysql-dsn")
	bindFlag(cmd, "database.sqlite_file", "sqlite-file")
	bindFlag(cmd, "storage.public_dir", "public-dir")
	bindFlag(cmd, "storage.private_dir", "private-dir")
	bindFlag(cmd, "photos.counter_mode", "counter-mode")
	bindFlag(cmd, "cache.redis_addr", "redis-addr")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}
	return nil
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the maintenance loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func importCommand() *cobra.Command {
	var albumID, userID uint64
	var copyFiles bool
	var scheme string
	cmd := &cobra.Command{
		Use:   "import <directory>",
		Short: "Import all images under a directory into an album",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), args[0], batch.Target{
				AlbumID: albumID,
				UserID:  userID,
				Scheme:  scheme,
				Copy:    copyFiles,
			})
		},
	}
	cmd.Flags().Uint64Var(&albumID, "album", 0, "Target album id")
	cmd.Flags().Uint64Var(&userID, "user", 0, "Owner of the imported images")
	cmd.Flags().BoolVar(&copyFiles, "copy", false, "Keep the source files")
	cmd.Flags().StringVar(&scheme, "scheme", "default", "Storage scheme (default, public, private)")
	_ = cmd.MarkFlagRequired("album")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func recountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recount",
		Short: "Recount every album, user and site counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecount(cmd.Context())
		},
	}
}

func runImport(ctx context.Context, source string, target batch.Target) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err = a.albums.Album(ctx, target.AlbumID); err != nil {
		return err
	}
	job, err := a.batches.Start(ctx, batch.StartRequest{Source: source, Target: target})
	if err != nil {
		return err
	}
	success := true
	for {
		step, err := a.batches.Step(ctx, job)
		if err != nil {
			a.log.Error("import step failed", zap.String("job_id", string(job)), zap.Error(err))
			success = false
			break
		}
		a.log.Info("import progress", zap.Int("processed", step.Processed), zap.Int("total", step.Total))
		if step.Done {
			break
		}
	}
	summary, err := a.batches.Finish(ctx, job, success)
	if err != nil {
		return err
	}
	fmt.Println(summary.Message())
	if !summary.Success {
		return fmt.Errorf("import of %s failed", source)
	}
	return nil
}

func runRecount(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	_, err = a.counters.Sweep(ctx, true)
	return err
}

func runServer(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := processing.New(a.db, processing.Config{
		Interval: processing.DefaultInterval,
		Sweeper:  a.counters,
		Cleaner:  a.batches,
		Logger:   a.log,
	})
	if err != nil {
		return err
	}
	go runner.Start(signalCtx)

	router := newRouter(a)
	if a.cfg.TLSDomains != "" {
		// autotls serves until the process exits
		errCh := make(chan error, 1)
		go func() {
			errCh <- autotls.Run(router, strings.Split(a.cfg.TLSDomains, ",")...)
		}()
		select {
		case <-signalCtx.Done():
			return nil
		case err := <-errCh:
			return err
		}
	}

	httpServer := &http.Server{
		Addr:    a.cfg.BindAddress,
		Handler: router,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting", zap.String("address", a.cfg.BindAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newRouter(a *app) *gin.Engine {
	if !a.cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	_ = router.SetTrustedProxies([]string{})
	if a.cfg.DebugMode {
		router.Use(utils.ErrorLogMiddleware(a.log))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "PUT", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "If-None-Match"},
		ExposeHeaders:    []string{"Content-Length", "ETag"},
		AllowCredentials: false,
		MaxAge:           30 * 24 * time.Hour,
	}))
	if !a.cfg.DebugMode {
		router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/album/upload"})))
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// No cache by default, cacheable reads set their own ETag
	api := router.Group("/", (&utils.CacheRouter{CacheTime: utils.CacheNoCache}).Handler())
	h := &handlers.Handlers{
		DB:             a.db,
		Albums:         a.albums,
		Ingestor:       a.ingestor,
		Batches:        a.batches,
		Counters:       a.counters,
		UploadFs:       a.sourceFs,
		UploadDir:      filepath.Join(a.cfg.TmpDir, "gallery-uploads"),
		MaxUploadBytes: a.cfg.Photos.UploadMaxBytes,
		AllowArchive:   a.cfg.Photos.AllowArchive,
		Versions:       a.tagVersion,
		Log:            a.log,
	}
	h.Register(api)
	return router
}
