// Command butler runs the Butler: inbound pipeline, escalation engine,
// automation scheduler, app registry, event bus, and the staff/guest chat
// socket gateways, all wired against a single SQLite store. Grounded on
// the teacher's cmd/agent/main.go: numbered construction steps (config,
// logger/tracer, security, providers, event bus, runtime components),
// signal.NotifyContext for graceful shutdown, deferred cleanup in
// construction order.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/adapter/channel"
	"github.com/arashkay/JackTheButler-sub003/internal/adapter/gateway"
	"github.com/arashkay/JackTheButler-sub003/internal/adapter/pms"
	"github.com/arashkay/JackTheButler-sub003/internal/adapter/store"
	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/arashkay/JackTheButler-sub003/internal/infra/config"
	"github.com/arashkay/JackTheButler-sub003/internal/infra/logger"
	"github.com/arashkay/JackTheButler-sub003/internal/infra/tracer"
	"github.com/arashkay/JackTheButler-sub003/internal/security"
	"github.com/arashkay/JackTheButler-sub003/internal/usecase/automation"
	"github.com/arashkay/JackTheButler-sub003/internal/usecase/eventbus"
	"github.com/arashkay/JackTheButler-sub003/internal/usecase/pipeline"
	"github.com/arashkay/JackTheButler-sub003/internal/usecase/registry"
	"github.com/arashkay/JackTheButler-sub003/internal/usecase/responder"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config
	cfgPath := flag.String("config", configPathFromEnv(), "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Persistence
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close()

	guests := store.NewGuestStore(db)
	reservations := store.NewReservationStore(db)
	conversations := store.NewConversationStore(db)
	messages := store.NewMessageStore(db)
	tasks := store.NewTaskStore(db)
	rules := store.NewRuleStore(db)
	executions := store.NewExecutionStore(db)
	knowledge := store.NewKnowledgeStore(db)
	auditStore := store.NewAuditStore(db)

	var extensions domain.ExtensionStore = store.NewExtensionStore(db)
	if cfg.Security.ContentEncryptionKey != "" {
		enc, err := security.NewAESContentEncryptor(cfg.Security.ContentEncryptionKey)
		if err != nil {
			return fmt.Errorf("content encryption: %w", err)
		}
		extensions = store.NewEncryptedExtensionStore(extensions, enc)
	} else {
		log.Warn("no content encryption key configured; extension credentials are stored in plaintext")
	}

	// 4. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 5. App registry: web chat is constructed up front since the guest
	// chat gateway needs a handle on it to wire its pusher after the
	// socket server itself exists.
	webChat := channel.NewWebChatChannel(log)
	reg := registry.New(extensions, auditStore, log)

	// 6. Pipeline (needs registry for the responder lookup; responder
	// needs nothing of the pipeline, so construct it first)
	resp := responder.NewLive(
		func() (domain.LanguageModelProvider, bool) { return reg.ActiveCompletionProvider() },
		func() (domain.LanguageModelProvider, bool) { return reg.ActiveEmbeddingProvider() },
		knowledge, "", log,
	)
	pl := pipeline.New(guests, reservations, conversations, messages, resp, bus, log)

	registerManifests(reg, pl, webChat, cfg.RateLimit, log)

	if err := reg.LoadAll(ctx); err != nil {
		log.Error("registry: failed to restore extension configs", "error", err)
	}

	// 7. Automation engine
	sender := newRegistryMessageSender(reg)
	dispatcher := automation.NewStandardDispatcher(tasks, bus, sender, nil, log)
	engine := automation.NewEngine(dispatcher, log)
	scheduler := automation.NewScheduler(rules, executions, reservations, guests, engine, bus, log)

	// 8. PMS sync
	syncer := pms.NewSyncer(func() (domain.PMSAdapter, bool) { return reg.ActivePMS() }, guests, reservations, bus, log)

	// 9. Socket gateway
	tokens := gateway.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)
	aggregateStats := newAggregateStats(tasks, conversations)
	snapshot := newSnapshotStatsProvider(aggregateStats, log)
	staffServer := gateway.NewStaffServer(tokens, snapshot, log)
	guestServer := gateway.NewGuestChatServer(pl, conversations, log)
	webChat.SetPusher(guestServer.Send)

	statsBridge := eventbus.NewStatsBridge(bus, aggregateStats, staffServer, log)
	defer statsBridge.Close()

	// 10. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scheduler.Start(ctx)
	defer scheduler.Stop()
	syncer.Start(ctx)
	defer syncer.Stop()

	errCh := make(chan error, 2)
	go func() {
		if err := staffServer.Start(ctx, cfg.Server.StaffWSAddr); err != nil {
			errCh <- fmt.Errorf("staff gateway: %w", err)
		}
	}()
	go func() {
		if err := guestServer.Start(ctx, cfg.Server.GuestWSAddr); err != nil {
			errCh <- fmt.Errorf("guest chat gateway: %w", err)
		}
	}()

	log.Info("butler starting",
		"database", cfg.Database.Path,
		"staffWsAddr", cfg.Server.StaffWSAddr,
		"guestWsAddr", cfg.Server.GuestWSAddr,
	)

	<-ctx.Done()
	log.Info("butler shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := staffServer.Stop(shutdownCtx); err != nil {
		log.Error("staff gateway shutdown error", "error", err)
	}
	if err := guestServer.Stop(shutdownCtx); err != nil {
		log.Error("guest chat gateway shutdown error", "error", err)
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func configPathFromEnv() string {
	if p := os.Getenv("BUTLER_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
