package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/nordlys/erasure/config"
	"github.com/nordlys/erasure/db"
	"github.com/nordlys/erasure/models"
	"github.com/nordlys/erasure/providers"
	"github.com/nordlys/erasure/services"
	"github.com/nordlys/erasure/stores"
	"github.com/nordlys/erasure/transport"
	"github.com/spf13/cobra"
)

var (
	flagStartDate string
	flagEndDate   string
	flagChannel   string
	flagConfig    string
)

var rootCmd = &cobra.Command{
	Use:   "erasure",
	Short: "process personal-data deletion requests reported in chat",
	Long: `erasure scans a chat channel for personal-data deletion requests,
fans them out to the external deletion platforms and tracks every request
until it is fully completed. Each invocation is one reconciliation pass; run
it from a scheduler and requests converge over repeated passes.`,
	RunE: runPass,
}

func init() {
	rootCmd.Flags().StringVar(&flagStartDate, "start-date", "", "window start (YYYY-MM-DD), default 30 days ago")
	rootCmd.Flags().StringVar(&flagEndDate, "end-date", "", "window end (YYYY-MM-DD), default today")
	rootCmd.Flags().StringVar(&flagChannel, "channel", "", "chat channel to scan, default from config")
	rootCmd.Flags().StringVar(&flagConfig, "config", "config/config.json", "path to config file")
}

func runPass(cmd *cobra.Command, args []string) error {
	// .env is optional; real deployments inject the environment directly
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	from, to, err := resolveWindow(flagStartDate, flagEndDate)
	if err != nil {
		return err
	}

	channel := flagChannel
	if channel == "" {
		channel = cfg.Processing.Channel
	}

	gormDB, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(gormDB); err != nil {
		return err
	}

	activityStore := stores.CreateActivityStore(gormDB)
	ledgerStore := stores.CreateLedgerStore(gormDB)
	chatClient := transport.CreateChatClient(cfg.Chat.BaseURL, cfg.Chat.BotToken)

	providerSet := map[string]providers.DeletionProvider{
		models.ProviderGDPR: providers.CreateProviderWrapper(
			providers.CreateGDPRProvider(cfg.GDPR.BaseURL, cfg.GDPR.ClientID, cfg.GDPR.ClientSecret)),
		models.ProviderAttribution: providers.CreateProviderWrapper(
			providers.CreateAttributionProvider(cfg.Attribution.BaseURL, cfg.Attribution.AppToken, cfg.Attribution.APIKey)),
		models.ProviderMediation: providers.CreateProviderWrapper(
			providers.CreateMediationProvider(cfg.Mediation.BaseURL, cfg.Mediation.APIKey)),
	}

	orchestrator := services.CreateOrchestrator(services.OrchestratorDeps{
		Transport:        chatClient,
		Ledger:           ledgerStore,
		Activity:         activityStore,
		Providers:        providerSet,
		WarehousePurger:  services.CreateWarehousePurger(activityStore),
		LiveStatePurger:  services.CreateLiveStatePurger(cfg.GameAdmin.BaseURL, cfg.GameAdmin.Token),
		InactivityWindow: cfg.InactivityWindow(),
	})

	report, err := orchestrator.Run(context.Background(), channel, from, to)
	if err != nil {
		return fmt.Errorf("pass aborted: %w", err)
	}

	// individual row failures are logged inside the pass; the run itself
	// succeeded, so exit zero and let the next scheduled pass retry them
	fmt.Printf("pass complete: scanned=%d candidates=%d created=%d deferred=%d completed=%d provider_errors=%d\n",
		report.Scanned, report.Candidates, report.Created, report.Deferred, report.Completed, report.ProviderErrors)

	return nil
}

func resolveWindow(startDate, endDate string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if startDate != "" {
		parsed, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start-date: %w", err)
		}
		from = parsed
	}
	if endDate != "" {
		parsed, err := time.Parse("2006-01-02", endDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end-date: %w", err)
		}
		// include the whole end day
		to = parsed.AddDate(0, 0, 1)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %s is not before end date %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	return from, to, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
