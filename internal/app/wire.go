package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/kyle-pena-nlp/bagzbot/internal/blob/s3"
	"github.com/kyle-pena-nlp/bagzbot/internal/cache/redis"
	"github.com/kyle-pena-nlp/bagzbot/internal/config"
	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/notify"
	"github.com/kyle-pena-nlp/bagzbot/internal/platform/jupiter"
	"github.com/kyle-pena-nlp/bagzbot/internal/platform/solana"
	"github.com/kyle-pena-nlp/bagzbot/internal/settlement"
	"github.com/kyle-pena-nlp/bagzbot/internal/store/postgres"
	"github.com/kyle-pena-nlp/bagzbot/internal/tracker"
	"github.com/kyle-pena-nlp/bagzbot/internal/trader"
	"github.com/kyle-pena-nlp/bagzbot/internal/wallet"
)

// Dependencies bundles every dependency the application modes need to
// operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Platform clients
	Wallet  *wallet.Wallet
	Rpc     *solana.Client
	Jupiter *jupiter.Client

	// Storage
	KVStore     domain.KVStore
	ClosedStore domain.ClosedPositionStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
	Status   *notify.StatusChannel

	// Engine and actors
	Engine    *settlement.Engine
	Registry  *tracker.Registry
	Buyer     *trader.Buyer
	Seller    *trader.Seller
	Confirmer *trader.Confirmer
	Hub       *trader.UserHub

	// Pairs are the tracked instruments from configuration.
	Pairs []domain.TokenPair
}

// tradingMode returns true for modes that sign and submit transactions.
func tradingMode(mode string) bool {
	switch mode {
	case "trade", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	for _, p := range cfg.Pairs {
		deps.Pairs = append(deps.Pairs, domain.TokenPair{
			Base:  domain.Token{Mint: p.BaseMint, Symbol: p.BaseSymbol, Decimals: p.BaseDecimals},
			Quote: domain.Token{Mint: p.QuoteMint, Symbol: p.QuoteSymbol, Decimals: p.QuoteDecimals},
		})
	}

	// --- Wallet (only for modes that trade) ---
	if tradingMode(cfg.Mode) {
		w, err := wallet.LoadWallet(wallet.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		deps.Wallet = w
	}

	// --- Chain RPC and aggregator ---
	deps.Rpc = solana.NewClient(solana.ClientConfig{
		Endpoint:       cfg.Rpc.Endpoint,
		Commitment:     cfg.Rpc.Commitment,
		SendMaxRetries: cfg.Rpc.SendMaxRetries,
		Timeout:        cfg.Rpc.Timeout.Duration,
	}, logger)
	deps.Jupiter = jupiter.NewClient(jupiter.ClientConfig{
		QuoteURL: cfg.Jupiter.QuoteURL,
		PriceURL: cfg.Jupiter.PriceURL,
		Timeout:  cfg.Jupiter.Timeout.Duration,
	})

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.KVStore = postgres.NewKVStore(pool)
	deps.ClosedStore = postgres.NewClosedPositionStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		MaxRetries:  cfg.Redis.MaxRetries,
		DialTimeout: cfg.Redis.DialTimeout.Duration,
		TLSEnabled:  cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only when the archive job is on) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		// Fail fast on bad credentials rather than at the first export.
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.ClosedStore, deps.LockManager, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 {
		tg := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		senders = append(senders, tg)
		deps.Status = notify.NewStatusChannel(tg, cfg.Notify.StatusThrottle.Duration, logger)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Settlement engine ---
	deps.Engine = settlement.NewEngine(deps.Rpc, settlement.Config{
		RebroadcastDelay:     cfg.Settlement.RebroadcastDelay.Duration,
		ConfirmPollDelay:     cfg.Settlement.ConfirmPollDelay.Duration,
		ConfirmTimeout:       cfg.Settlement.ConfirmTimeout.Duration,
		MaxSendExceptions:    cfg.Settlement.MaxSendExceptions,
		MaxConfirmExceptions: cfg.Settlement.MaxConfirmExceptions,
		Codes: settlement.ErrorCodes{
			Slippage:                 cfg.Settlement.ErrorCodes.Slippage,
			InsufficientBalance:      cfg.Settlement.ErrorCodes.InsufficientBalance,
			FrozenAccount:            cfg.Settlement.ErrorCodes.FrozenAccount,
			FeeAccountNotInitialized: cfg.Settlement.ErrorCodes.FeeAccountNotInitialized,
		},
	}, logger)

	// --- Pair actors and trading ---
	deps.Registry = tracker.NewRegistry(tracker.Config{
		FlushInterval:        cfg.Tracker.FlushInterval.Duration,
		MaxOtherSellFailures: cfg.Tracker.MaxOtherSellFailures,
		MaxSlippagePercent:   cfg.Tracker.MaxSlippagePercent,
	}, deps.KVStore, deps.ClosedStore, deps.SignalBus, deps.Notifier, logger)

	if tradingMode(cfg.Mode) {
		deps.Buyer = trader.NewBuyer(deps.Jupiter, deps.Wallet, deps.Engine, deps.Registry, deps.Status, logger)
		deps.Seller = trader.NewSeller(deps.Jupiter, deps.Wallet, deps.Engine, deps.Registry, logger)
		deps.Confirmer = trader.NewConfirmer(deps.Registry, deps.Engine, deps.Wallet, cfg.Trader.ConfirmInterval.Duration, logger)
		// The hub is the per-owner entry point for externally initiated
		// buys and manual sells; request surfaces (chat commands, an
		// admin API) call through it rather than the buyer and seller
		// directly.
		deps.Hub = trader.NewUserHub(deps.Buyer, deps.Seller)
		deps.Registry.SetSellFunc(deps.Seller.Sell)
	} else {
		// Monitoring only: triggers fire and are announced, but no
		// transaction is ever built or signed.
		deps.Registry.SetSellFunc(func(ctx context.Context, pos domain.Position) {
			logger.Info("trigger fired in monitor mode, trading disabled",
				slog.String("position", pos.ID),
				slog.String("pair", pos.Pair.Slug()),
			)
		})
	}

	return deps, cleanup, nil
}
