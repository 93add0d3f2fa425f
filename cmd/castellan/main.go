package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castellan-ai/castellan/internal/adapters/duckdb"
	"github.com/castellan-ai/castellan/internal/agents"
	appconfig "github.com/castellan-ai/castellan/internal/config"
	"github.com/castellan-ai/castellan/internal/connectors"
	"github.com/castellan-ai/castellan/internal/core/ports"
	"github.com/castellan-ai/castellan/internal/core/services"
	"github.com/castellan-ai/castellan/pkg/kernel"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting castellan")

	if err := run(logger); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg, err := appconfig.Load()
	if err != nil {
		return err
	}

	store, err := duckdb.NewStore(logger, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to init action store: %w", err)
	}
	defer store.Close()

	engine, err := appconfig.BuildEngine(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to build reasoning engine: %w", err)
	}

	eventBus := services.NewEventBus(logger)
	coordinator := services.NewCoordinator(logger, store, eventBus)

	if err := registerAgents(logger, cfg, coordinator); err != nil {
		return err
	}

	// Authenticate connectors up front; individual failures are logged and
	// the agent keeps running with whatever is ready.
	coordinator.Setup(ctx)

	orchestrator := services.NewOrchestrator(logger, engine, coordinator)
	apiServer := kernel.NewServer(logger, orchestrator, coordinator, eventBus, engine, cfg.Server.AllowedOrigins)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: apiServer.Handler(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// registerAgents builds the enabled domain agents, attaches their configured
// connectors and hands everything to the Coordinator.
func registerAgents(logger *slog.Logger, cfg *appconfig.Config, coordinator *services.Coordinator) error {
	email := agents.NewEmailAgent(logger)
	calendar := agents.NewCalendarAgent(logger)
	transport := agents.NewTransportAgent(logger)
	weather := agents.NewWeatherAgent(logger)
	flight := agents.NewFlightAgent(logger)
	trip := agents.NewTripAgent(logger)

	if cfg.Agents.Transport.HomeStation != "" {
		transport.SetHomeStation(cfg.Agents.Transport.HomeStation)
	}
	// Default mode classification for the known transit providers; a query
	// for one mode never fans out to a provider that cannot answer it.
	transport.SetProviderModes("wmata", agents.ModeMetro, agents.ModeBus)
	transport.SetProviderModes("bikeshare", agents.ModeBikeshare)
	for connectorType, rawModes := range cfg.Agents.Transport.Modes {
		modes := make([]agents.TransportMode, len(rawModes))
		for i, m := range rawModes {
			modes[i] = agents.TransportMode(m)
		}
		transport.SetProviderModes(connectorType, modes...)
	}

	if cfg.Agents.Weather.DefaultLocation != "" {
		weather.SetDefaultLocation(cfg.Agents.Weather.DefaultLocation)
	}
	for name, coords := range cfg.Agents.Weather.Locations {
		weather.AddLocation(agents.WeatherLocation{
			Name:      name,
			Latitude:  coords.Latitude,
			Longitude: coords.Longitude,
		})
	}

	for _, flightNumber := range cfg.Agents.Flight.TrackedFlights {
		flight.TrackFlight(flightNumber)
	}

	// Connector type → owning agent. Exactly one owner per connector.
	owners := map[string]interface {
		Register(conn ports.Connector) error
	}{
		"gmail":           email,
		"outlook":         email,
		"google_calendar": calendar,
		"wmata":           transport,
		"bikeshare":       transport,
		"weather.gov":     weather,
		"aviationstack":   flight,
		"hotels":          trip,
	}

	for name, cc := range cfg.Connectors {
		conn := buildConnector(cc)
		if conn == nil {
			logger.Warn("unknown connector type, skipping", "connector", name, "type", cc.Type)
			continue
		}
		owner, ok := owners[cc.Type]
		if !ok {
			logger.Warn("connector type has no owning agent", "connector", name, "type", cc.Type)
			continue
		}
		if err := owner.Register(conn); err != nil {
			return fmt.Errorf("failed to register connector %s: %w", name, err)
		}
		logger.Info("connector registered", "connector", conn.Name(), "type", cc.Type)
	}

	if account := cfg.Agents.Email.DefaultAccount; account != "" {
		if err := email.SetDefaultAccount(account); err != nil {
			return fmt.Errorf("email default account: %w", err)
		}
	}
	if account := cfg.Agents.Calendar.DefaultAccount; account != "" {
		if err := calendar.SetDefaultAccount(account); err != nil {
			return fmt.Errorf("calendar default account: %w", err)
		}
	}

	if cfg.Agents.Email.Enabled {
		coordinator.RegisterAgent(email)
	}
	if cfg.Agents.Calendar.Enabled {
		coordinator.RegisterAgent(calendar)
	}
	if cfg.Agents.Transport.Enabled {
		coordinator.RegisterAgent(transport)
	}
	if cfg.Agents.Weather.Enabled {
		coordinator.RegisterAgent(weather)
	}
	if cfg.Agents.Flight.Enabled {
		coordinator.RegisterAgent(flight)
	}
	if cfg.Agents.Trip.Enabled {
		coordinator.RegisterAgent(trip)
	}
	return nil
}

func buildConnector(cc appconfig.ConnectorConfig) ports.Connector {
	switch cc.Type {
	case "gmail":
		return connectors.NewGmail(cc.Config)
	case "outlook":
		return connectors.NewOutlook(cc.Config)
	case "google_calendar":
		return connectors.NewGoogleCalendar(cc.Config)
	case "wmata":
		return connectors.NewWMATA(cc.Config)
	case "bikeshare":
		return connectors.NewBikeshare(cc.Config)
	case "weather.gov":
		return connectors.NewWeatherGov(cc.Config)
	case "aviationstack":
		return connectors.NewAviationStack(cc.Config)
	case "hotels":
		return connectors.NewHotels(cc.Config)
	default:
		return nil
	}
}
