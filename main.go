// Package main implements a Cloud Run service that watches a trading
// platform's GraphQL indexer and sends email notifications for holdings
// activity, followed-trader activity, and trade receipts.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/robfig/cron/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"tradewatch-notifier/dedup"
	"tradewatch-notifier/digest"
	"tradewatch-notifier/dispatch"
	"tradewatch-notifier/email"
	"tradewatch-notifier/graph"
	"tradewatch-notifier/poll"
	"tradewatch-notifier/registry"
	"tradewatch-notifier/server"
	"tradewatch-notifier/store"
)

const defaultPollSchedule = "@every 10m"

func main() {
	ctx := context.Background()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Check for local development mode
	localStorage := os.Getenv("LOCAL_STORAGE")
	bucket := os.Getenv("STORAGE_BUCKET")
	baseURL := os.Getenv("BASE_URL")
	graphEndpoint := os.Getenv("GRAPH_ENDPOINT")

	// Default to local development mode if no bucket specified
	if bucket == "" && localStorage == "" {
		localStorage = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local development mode", "storage_path", localStorage)
	}

	var storageClient *storage.Client
	switch {
	case localStorage != "":
		logger.Info("Running in local development mode", "storage_path", localStorage)
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}
		if err := os.MkdirAll(localStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
	default:
		// Production mode (Cloud Run)
		if baseURL == "" {
			logger.Error("BASE_URL environment variable required (e.g., https://your-service.run.app)")
			os.Exit(1)
		}

		var err error
		storageClient, err = storage.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
	}

	if graphEndpoint == "" {
		logger.Error("GRAPH_ENDPOINT environment variable required")
		os.Exit(1)
	}

	provider := initEmailProvider(ctx, logger, localStorage != "")

	kv := store.New(storageClient, bucket, localStorage, logger)
	subs := registry.NewSubscriptions(kv, logger)
	follows := registry.NewFollows(kv, logger)
	seen := dedup.New(kv, logger)
	queue := digest.New(kv, logger)
	sender := email.New(provider, logger, baseURL)
	dispatcher := dispatch.New(subs, seen, queue, sender, logger)
	source := graph.New(graphEndpoint, logger)
	monitor := poll.New(source, subs, follows, dispatcher, logger)

	// In-process poll schedule. Cloud Scheduler hitting /pollz also works;
	// set POLL_SCHEDULE=off to rely on it exclusively.
	schedule := os.Getenv("POLL_SCHEDULE")
	if schedule == "" {
		schedule = defaultPollSchedule
	}
	if schedule != "off" {
		c := cron.New()
		if _, err := c.AddFunc(schedule, func() {
			pollCtx, cancel := context.WithTimeout(context.Background(), 9*time.Minute)
			defer cancel()
			monitor.CheckAll(pollCtx)
		}); err != nil {
			logger.Error("Invalid POLL_SCHEDULE", "schedule", schedule, "error", err)
			os.Exit(1)
		}
		c.Start()
		logger.Info("Poll schedule started", "schedule", schedule)
	}

	srv := server.New(&server.Config{
		Subscriptions: subs,
		Follows:       follows,
		Emailer:       sender,
		Receiver:      dispatcher,
		Poller:        monitor,
		Logger:        logger,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := srv.ListenAndServe(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// initEmailProvider selects the delivery backend from EMAIL_PROVIDER.
// Local mode falls back to the mock provider when nothing is configured.
func initEmailProvider(ctx context.Context, logger *slog.Logger, localMode bool) email.Provider {
	fromAddr := os.Getenv("EMAIL_FROM")
	fromName := os.Getenv("EMAIL_FROM_NAME")
	if fromName == "" {
		fromName = "TradeWatch"
	}

	switch os.Getenv("EMAIL_PROVIDER") {
	case "gmail":
		service, err := initGmailService(ctx)
		if err != nil {
			if localMode {
				logger.Warn("Failed to initialize Gmail service, using mock email", "error", err)
				return email.NewMockProvider(logger)
			}
			logger.Error("Failed to initialize Gmail service", "error", err)
			os.Exit(1)
		}
		return email.NewGmailProvider(service, logger)
	case "mailjet":
		publicKey := os.Getenv("MAILJET_PUBLIC_KEY")
		privateKey := os.Getenv("MAILJET_PRIVATE_KEY")
		if publicKey == "" || privateKey == "" {
			logger.Error("MAILJET_PUBLIC_KEY and MAILJET_PRIVATE_KEY required for the mailjet provider")
			os.Exit(1)
		}
		return email.NewMailjetProvider(publicKey, privateKey, fromAddr, fromName, logger)
	case "mock":
		return email.NewMockProvider(logger)
	case "http", "":
		endpoint := os.Getenv("EMAIL_ENDPOINT")
		if endpoint == "" && localMode {
			logger.Info("Mock email mode enabled (no EMAIL_ENDPOINT)")
			return email.NewMockProvider(logger)
		}
		// An empty endpoint in production yields ErrNotConfigured per send,
		// which the subscribe handler surfaces distinctly.
		return email.NewHTTPProvider(endpoint, os.Getenv("EMAIL_API_KEY"), fromAddr, fromName, logger)
	default:
		logger.Error("Unknown EMAIL_PROVIDER", "provider", os.Getenv("EMAIL_PROVIDER"))
		os.Exit(1)
		return nil
	}
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context) (*gmail.Service, error) {
	// Try explicit credentials first (for local development or specific use cases)
	credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON")
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// If running in Cloud Run, use Application Default Credentials (ADC)
	// The service account needs Gmail API access (gmail.send scope)
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	// Not in Cloud Run and no explicit credentials
	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}
