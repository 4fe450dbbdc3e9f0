package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/config"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/database"
	"github.com/AgusMolinaCode/DCA_Portfolio/internal/middleware"
	routes "github.com/AgusMolinaCode/DCA_Portfolio/internal/server"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		logs.Errorf("%+v", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "api",
		Short:         "Crypto portfolio tracker API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Cargar variables de entorno
			if err := godotenv.Load(); err != nil {
				logs.Infof("No se pudo cargar el archivo .env: %v", err)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.AddCommand(serveCmd(), migrateCmd(), reconcileCmd())
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the market data refresher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreKind != config.StoreKindPostgres {
				return fmt.Errorf("migrate needs STORE_KIND=%s", config.StoreKindPostgres)
			}

			db, err := database.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			return database.Migrate(cmd.Context(), db)
		},
	}
}

func reconcileCmd() *cobra.Command {
	var (
		userID  string
		assetID string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute positions from their transaction history",
		Long: `Recompute every position from the full transaction history and fix
the rows that drifted. With --user and --asset only that position is recomputed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (userID == "") != (assetID == "") {
				return errors.New("--user and --asset must be used together")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if userID != "" {
				position, err := a.reconciler.RecomputePosition(cmd.Context(), userID, assetID)
				if err != nil {
					return err
				}
				if position == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: closed\n", userID, assetID)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: amount=%s average_cost=%s\n", userID, assetID, position.Amount, position.AverageCost)
				return nil
			}

			report, err := a.reconciler.ReconcileAll(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "positions=%d changed=%d failed=%d\n", report.Positions, report.Changed, report.Failed)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id of a single position to recompute")
	cmd.Flags().StringVar(&assetID, "asset", "", "Asset id of a single position to recompute")
	return cmd
}

func newRouter(cfg *config.Config) *gin.Engine {
	router := gin.Default()

	// Configurar CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "Admin-Key"}
	corsConfig.AllowCredentials = true
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	return router
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	a.market.Start(context.WithoutCancel(ctx))

	tokens := middleware.NewTokenIssuer(cfg.JWTSecret)
	h := middleware.NewHandlers(a.users, a.reconciler, a.portfolio, a.market, tokens)

	auth := middleware.AuthMiddleware(tokens)
	if cfg.ClerkEnabled() {
		h.ClerkUsers = middleware.InitClerk(cfg.ClerkSecretKey)
		auth = middleware.ClerkAuthMiddleware(middleware.VerifyClerkSession)
	}

	router := newRouter(cfg)
	routes.RegisterRoutes(router, h, routes.Options{
		Auth:               auth,
		AdminKey:           cfg.AdminSecretKey,
		ClerkWebhookSecret: cfg.ClerkWebhookSecret,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logs.Infof("servidor escuchando en :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error al iniciar el servidor: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logs.Info("apagando el servidor...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Las unidades de trabajo en curso terminan o hacen rollback antes de cerrar la base.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logs.Info("servidor detenido")
	return nil
}
