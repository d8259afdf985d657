package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manodhiambo/school-management-system-sub003/config"
	"github.com/manodhiambo/school-management-system-sub003/controllers"
	"github.com/manodhiambo/school-management-system-sub003/middlewares"
	"github.com/manodhiambo/school-management-system-sub003/mpesa"
	"github.com/manodhiambo/school-management-system-sub003/notify"
	"github.com/manodhiambo/school-management-system-sub003/routes"
	"github.com/manodhiambo/school-management-system-sub003/service"
	"github.com/manodhiambo/school-management-system-sub003/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "feesd",
		Short:        "School fee ledger and M-Pesa payment service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(serveCmd(), migrateCmd(), seedCmd(), tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := config.ConnectDB(cfg, log)
			if err != nil {
				return err
			}
			if err := config.Migrate(db); err != nil {
				return err
			}
			log.Info("migration complete")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var tenant string
	var fee string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo students and one term invoice each for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(tenant); err != nil {
				return fmt.Errorf("--tenant must be a UUID: %w", err)
			}
			amount, err := decimal.NewFromString(fee)
			if err != nil {
				return fmt.Errorf("--fee: %w", err)
			}

			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := config.ConnectDB(cfg, log)
			if err != nil {
				return err
			}
			if err := config.Migrate(db); err != nil {
				return err
			}

			students, err := config.SeedStudents(db, tenant)
			if err != nil {
				return err
			}
			ids := make([]uint, 0, len(students))
			for _, s := range students {
				ids = append(ids, s.ID)
			}

			invoices, err := service.NewInvoices(db).GenerateInvoices(cmd.Context(), tenant, service.BulkInvoiceInput{
				StudentIDs:  ids,
				Description: "Term fees",
				TotalAmount: amount,
				DueDate:     time.Now().UTC().AddDate(0, 1, 0),
			})
			if err != nil {
				return err
			}
			for _, inv := range invoices {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", inv.ID, inv.InvoiceNumber, inv.NetAmount.StringFixed(2))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (UUID)")
	cmd.Flags().StringVar(&fee, "fee", "15000", "invoice amount per student")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func tokenCmd() *cobra.Command {
	var tenant, user, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a tenant user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := utils.GenerateToken([]byte(cfg.JWTSecret), tenant, user, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (UUID)")
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "bursar", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := config.NewLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func serve(ctx context.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	db, err := config.ConnectDB(cfg, log)
	if err != nil {
		return err
	}
	if err := config.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	gw := mpesa.NewClient(mpesa.Config{
		BaseURL:         cfg.Mpesa.BaseURL,
		ConsumerKey:     cfg.Mpesa.ConsumerKey,
		ConsumerSecret:  cfg.Mpesa.ConsumerSecret,
		ShortCode:       cfg.Mpesa.ShortCode,
		PassKey:         cfg.Mpesa.PassKey,
		TransactionType: cfg.Mpesa.TransactionType,
		CallbackURL:     cfg.Mpesa.CallbackURL,
		TokenTimeout:    cfg.Mpesa.TokenTimeout,
		RequestTimeout:  cfg.Mpesa.RequestTimeout,
	})

	var notifier notify.Notifier = notify.Nop{}
	if cfg.SMTP.Enabled() {
		notifier = notify.NewMailer(notify.MailerConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			Sender:   cfg.SMTP.Sender,
		}, log.Named("notify"))
	}

	ledger := service.NewLedger(db)
	payments := service.NewPayments(db, ledger, notifier, log.Named("payments"))
	h := &controllers.Handler{
		Invoices:      service.NewInvoices(db),
		Payments:      payments,
		Mpesa:         service.NewMpesa(db, gw, ledger, payments, log.Named("mpesa")),
		Reports:       service.NewReports(db),
		CallbackToken: cfg.Mpesa.CallbackToken,
		Log:           log.Named("http"),
	}

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestLogger(log.Named("access")))
	routes.SetupRoutes(r, h, middlewares.AuthMiddleware([]byte(cfg.JWTSecret)), cfg.CORSOrigins)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
