package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vicpeacock/knowledge-navigator/internal/agents"
	"github.com/vicpeacock/knowledge-navigator/internal/broker"
	"github.com/vicpeacock/knowledge-navigator/internal/config"
	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/ipc"
	"github.com/vicpeacock/knowledge-navigator/internal/llm"
	"github.com/vicpeacock/knowledge-navigator/internal/memory"
	"github.com/vicpeacock/knowledge-navigator/internal/natsbus"
	"github.com/vicpeacock/knowledge-navigator/internal/notify"
	"github.com/vicpeacock/knowledge-navigator/internal/scheduler"
	"github.com/vicpeacock/knowledge-navigator/internal/store"
	"github.com/vicpeacock/knowledge-navigator/internal/telegram"
	"github.com/vicpeacock/knowledge-navigator/internal/tools"
	"github.com/vicpeacock/knowledge-navigator/internal/vault"
	"github.com/vicpeacock/knowledge-navigator/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("navigator %s\n", version)
	case "gateway":
		err = runGateway()
	case "backup":
		err = runBackup(os.Args[2:])
	case "secret":
		err = runSecret(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: navigator <command>

Commands:
  gateway    Start the assistant gateway service
  backup     Archive the data directory (tar+zstd)
  secret     Manage vault-sealed secrets
  version    Print version
`)
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting navigator gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("nats client: %w", err)
	}
	defer client.Close()

	// Vault for sealed secrets and encrypted memory payloads
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	} else {
		slog.Warn("vault passphrase not set, secrets and memory encryption disabled")
	}

	// Reasoning backend behind a circuit breaker
	backend := llm.WithBreaker(llm.NewAnthropic(cfg.LLM), cfg.LLM.Breaker)

	// Tools: builtins plus MCP servers from config
	invoker := buildTools(ctx, cfg, db, v)

	// Short-term memory with TTL sweeping
	mem := memory.NewStore(db, v, cfg.Memory)
	go mem.Janitor(ctx, 5*time.Minute)

	// Notification sink; delivery surfaces register below
	sink := notify.NewService(db)

	// Inter-agent broker on the bus
	brk := broker.New(client)

	nodes := agents.BuildRoster(agents.Deps{
		Backend: backend,
		Tools:   invoker,
		Broker:  brk,
		Engine:  cfg.Engine,
	})

	eng, err := engine.New(cfg.Engine, nodes, backend, mem, db, sink, client)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	// IPC surface for navctl
	ipcSrv := ipc.NewServer(client, eng, db)
	if err := ipcSrv.Start(); err != nil {
		return fmt.Errorf("init ipc: %w", err)
	}
	defer ipcSrv.Stop()

	// Scheduler
	sched := scheduler.New(db, eng, client, cfg.Scheduler)
	go sched.Start(ctx)

	// Telegram gateway
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram, eng)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		sink.RegisterDispatcher(bot)
		go func() {
			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram bot error", "error", err)
			}
		}()
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// Web gateway
	if cfg.Web.Enabled {
		srv := web.NewServer(db, eng, client, sink, v, cfg.Web, version)
		sink.RegisterDispatcher(srv)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	}

	// SIGHUP reloads the reloadable config sections
	go watchConfig(ctx, cfg, eng, sched)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()
	return nil
}

// buildTools assembles the invoker: the builtin registry plus whatever MCP
// servers the config declares, with "secret:NAME" references resolved
// through the vault.
func buildTools(ctx context.Context, cfg *config.Config, db *store.Store, v *vault.Vault) tools.Invoker {
	builtins := tools.NewBuiltinRegistry()
	if len(cfg.Tools.MCPServers) == 0 {
		return builtins
	}

	resolver := func(name string) (string, error) {
		if v == nil {
			return "", fmt.Errorf("vault is not configured")
		}
		sec, err := db.GetSecret(name)
		if err != nil {
			return "", err
		}
		if sec == nil {
			return "", fmt.Errorf("secret %q not found", name)
		}
		plaintext, err := v.Decrypt(sec.Value, sec.Nonce)
		if err != nil {
			return "", err
		}
		return string(plaintext), nil
	}

	bridge := tools.NewBridge(ctx, cfg.Tools.MCPServers, resolver)
	return tools.NewMux(builtins, bridge)
}

// watchConfig re-reads the config on SIGHUP and applies what can change at
// runtime. Everything else is logged as needing a restart.
func watchConfig(ctx context.Context, current *config.Config, eng *engine.Engine, sched *scheduler.Scheduler) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		next, err := config.Load()
		if err != nil {
			slog.Error("config reload failed, keeping current config", "error", err)
			continue
		}

		diff := config.Diff(current, next)
		if !diff.HasChanges() && len(diff.NonReloadable) == 0 {
			slog.Info("config reload: no changes")
			continue
		}

		if diff.SchedulerChanged {
			sched.UpdateConfig(diff.NewPollInterval.PollInterval)
		}
		if diff.EngineChanged {
			eng.UpdateConfig(diff.NewEngine)
			slog.Info("turn timeout reloaded", "turn_timeout", diff.NewEngine.TurnTimeout)
		}
		if diff.MemoryChanged || diff.ModelChanged {
			slog.Warn("memory and model settings apply after restart")
		}
		for _, field := range diff.NonReloadable {
			slog.Warn("config field requires restart", "field", field)
		}

		*current = *next
	}
}
