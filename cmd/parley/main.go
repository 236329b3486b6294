package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/adapter/resolver"
	"parley/internal/adapter/transport"
	"parley/internal/adapter/tui"
	"parley/internal/domain"
	"parley/internal/infra/config"
	"parley/internal/infra/logger"
	"parley/internal/infra/tracer"
	"parley/internal/usecase"
	"parley/internal/usecase/eventbus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (default $"+config.EnvConfigPath+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return domain.WrapOp("load config", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return domain.WrapOp("init logger", err)
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return domain.WrapOp("init tracer", err)
	}
	defer shutdownTracer(context.Background())

	bus := eventbus.New(logger.For(log, "eventbus"))
	defer bus.Close()

	store := usecase.NewStore(bus, logger.For(log, "store"))
	if len(cfg.Approval.Allow) > 0 || len(cfg.Approval.Deny) > 0 {
		store.SetApprovalPolicy(usecase.NewApprovalPolicy(cfg.Approval.Allow, cfg.Approval.Deny))
	}

	resolverClient := resolver.NewClient(resolver.ClientConfig{
		Endpoint:       cfg.Resolver.Endpoint,
		IssuerContext:  cfg.Resolver.IssuerContext,
		TTLSeconds:     cfg.Resolver.TTLSeconds,
		Timeout:        cfg.Resolver.Timeout,
		RequestsPerSec: cfg.Resolver.RequestsPerSec,
		Burst:          cfg.Resolver.Burst,
	}, logger.For(log, "resolver"))
	resolution := resolver.NewService(resolverClient, logger.For(log, "resolver"))

	monitor := transport.NewMonitor(bus, logger.For(log, "monitor"))
	client := transport.NewClient(transport.ClientConfig{
		URL:         cfg.Gateway.URL,
		BackoffBase: cfg.Gateway.BackoffBase,
		BackoffCap:  cfg.Gateway.BackoffCap,
	}, store, monitor, logger.For(log, "transport"))

	// A transport drop mid-stream stalls the active message.
	unsubConn := monitor.Subscribe(store.OnConnectionState)
	defer unsubConn()

	model := tui.NewModel(tui.Deps{
		Store:          store,
		Resolver:       resolution,
		Monitor:        monitor,
		Sender:         client,
		ConversationID: cfg.Gateway.ConversationID,
		Markdown:       cfg.UI.Markdown,
		Logger:         logger.For(log, "tui"),
	})
	program := tea.NewProgram(model, tea.WithAltScreen())

	// Forward everything on the bus into the Bubble Tea loop.
	unsubAll := bus.SubscribeAll(func(_ context.Context, event domain.Event) {
		program.Send(tui.BusEventMsg{Event: event})
	})
	defer unsubAll()

	go func() {
		if err := client.Run(ctx); err != nil {
			log.Error("transport stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		return domain.WrapOp("run ui", err)
	}
	return nil
}
