// Status Core - Event Scheduler and Action Contention Controller
//
// This is the main entry point for the Status Core application. Status
// Core turns tagged status events (doorbell, alarm, reminders) into
// coordinated device, media and notification actions, arbitrating
// contention over entities by priority.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/status-core/migrations"

	"github.com/nerrad567/status-core/internal/api"
	"github.com/nerrad567/status-core/internal/autolight"
	"github.com/nerrad567/status-core/internal/button"
	"github.com/nerrad567/status-core/internal/controller"
	"github.com/nerrad567/status-core/internal/gateway"
	"github.com/nerrad567/status-core/internal/infrastructure/config"
	"github.com/nerrad567/status-core/internal/infrastructure/database"
	"github.com/nerrad567/status-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/status-core/internal/infrastructure/logging"
	"github.com/nerrad567/status-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/status-core/internal/notifier"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// statusPublishInterval is how often the controller status snapshot is
// published to MQTT.
const statusPublishInterval = 30 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Status Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Entity gateway: cached state in, service calls out
	qos := byte(cfg.MQTT.QoS)
	gw := gateway.NewMQTTGateway(&mqttGatewayAdapter{client: mqttClient}, qos)
	gw.SetLogger(log)
	if startErr := gw.Start(); startErr != nil {
		return fmt.Errorf("starting entity gateway: %w", startErr)
	}
	log.Info("entity gateway started", "state_topic", mqtt.Topics{}.AllEntityStates())

	timers := gateway.NewTimers()

	// Controller rules
	rules, err := controller.LoadRules(cfg.Controller.RulesFile)
	if err != nil {
		return fmt.Errorf("loading controller rules: %w", err)
	}
	log.Info("controller rules loaded",
		"path", cfg.Controller.RulesFile,
		"tags", len(rules.Tags),
		"outputs", len(rules.Outputs),
	)

	// Controller and its observers
	ctrl := controller.New(rules, gw, timers, mqttClient)
	ctrl.SetLogger(log)

	audit := controller.NewAuditRepository(db, log)
	hub := api.NewHub(cfg.WebSocket, log)

	observers := controller.MultiObserver{audit, hub}
	if influxClient != nil {
		observers = append(observers, controller.NewMetricsObserver(influxClient))
	}
	ctrl.SetObserver(observers)

	if startErr := ctrl.Start(ctx); startErr != nil {
		return fmt.Errorf("starting controller: %w", startErr)
	}
	defer func() {
		log.Info("stopping controller")
		ctrl.Stop()
	}()
	log.Info("controller started")

	// Inbound status events from MQTT
	eventTopic := cfg.Controller.EventTopic
	err = mqttClient.Subscribe(eventTopic, qos, func(_ string, payload []byte) error {
		ev, parseErr := controller.ParseEvent(payload)
		if parseErr != nil {
			log.Warn("discarding malformed event", "error", parseErr)
			return nil
		}
		if addErr := ctrl.Add(ev); addErr != nil {
			log.Warn("event rejected", "event_id", ev.ID, "error", addErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to event topic: %w", err)
	}
	log.Info("event topic subscribed", "topic", eventTopic)

	// Periodic retained controller status snapshot
	statusHandle := timers.ScheduleEvery(statusPublishInterval, func() {
		publishControllerStatus(ctrl, mqttClient, influxClient, log)
	})
	defer timers.Cancel(statusHandle)

	// Companion automations
	stopAutomations, err := startAutomations(cfg, gw, timers, mqttClient, log)
	if err != nil {
		return err
	}
	defer stopAutomations()

	// HTTP API and WebSocket feed
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Controller: ctrl,
		Audit:      audit,
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, automations, controller, InfluxDB, MQTT, database.

	log.Info("Status Core stopped")
	return nil
}

// startAutomations wires the optional auto-light, button, and cautious
// notifier automations from their config files. The returned func
// stops them.
func startAutomations(
	cfg *config.Config,
	gw *gateway.MQTTGateway,
	timers *gateway.Timers,
	mqttClient *mqtt.Client,
	log *logging.Logger,
) (func(), error) {
	var running []*autolight.Automation
	var notifiers []*notifier.Notifier

	stop := func() {
		for _, a := range running {
			a.Stop()
		}
		for _, n := range notifiers {
			n.Stop()
		}
	}

	if path := cfg.Automations.AutoLightsFile; path != "" {
		configs, err := autolight.LoadConfigs(path)
		if err != nil {
			return stop, fmt.Errorf("loading auto-lights: %w", err)
		}
		for _, alCfg := range configs {
			if alCfg.StatusTopic == "" {
				alCfg.StatusTopic = mqtt.Topics{}.AutomationStatus(alCfg.Name)
			}
			automation, err := autolight.New(alCfg, gw, timers, mqttClient)
			if err != nil {
				return stop, fmt.Errorf("creating auto-light %q: %w", alCfg.Name, err)
			}
			automation.SetLogger(log)
			if err := automation.Start(); err != nil {
				return stop, fmt.Errorf("starting auto-light %q: %w", alCfg.Name, err)
			}
			running = append(running, automation)
		}
		log.Info("auto-light automations started", "count", len(configs))
	}

	if path := cfg.Automations.ButtonsFile; path != "" {
		configs, err := button.LoadConfigs(path)
		if err != nil {
			return stop, fmt.Errorf("loading buttons: %w", err)
		}
		dispatchers := make([]*button.Dispatcher, 0, len(configs))
		for _, bCfg := range configs {
			dispatcher, err := button.New(bCfg, gw)
			if err != nil {
				return stop, fmt.Errorf("creating button dispatcher %q: %w", bCfg.Name, err)
			}
			dispatcher.SetLogger(log)
			dispatchers = append(dispatchers, dispatcher)
		}

		topic := mqtt.Topics{}.ButtonEvent()
		err = mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), func(_ string, payload []byte) error {
			for _, d := range dispatchers {
				if handleErr := d.HandleEvent(payload); handleErr != nil {
					log.Warn("button event failed", "error", handleErr)
				}
			}
			return nil
		})
		if err != nil {
			return stop, fmt.Errorf("subscribing to button topic: %w", err)
		}
		log.Info("button dispatchers started", "count", len(dispatchers), "topic", topic)
	}

	if path := cfg.Automations.NotifiersFile; path != "" {
		configs, err := notifier.LoadConfigs(path)
		if err != nil {
			return stop, fmt.Errorf("loading notifiers: %w", err)
		}
		for _, nCfg := range configs {
			n, err := notifier.New(nCfg, cfg.Controller.EventTopic, gw, timers, mqttClient)
			if err != nil {
				return stop, fmt.Errorf("creating notifier %q: %w", nCfg.Name, err)
			}
			n.SetLogger(log)
			if err := n.Start(); err != nil {
				return stop, fmt.Errorf("starting notifier %q: %w", nCfg.Name, err)
			}
			notifiers = append(notifiers, n)
		}
		log.Info("notifiers started", "count", len(configs), "topic", cfg.Controller.EventTopic)
	}

	return stop, nil
}

// publishControllerStatus publishes a retained controller snapshot and
// feeds the queue gauge to InfluxDB.
func publishControllerStatus(
	ctrl *controller.Controller,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) {
	status := ctrl.Status()

	payload, err := json.Marshal(status)
	if err != nil {
		return
	}
	topic := mqtt.Topics{}.ControllerStatus()
	if err := mqttClient.PublishRetained(topic, payload); err != nil {
		log.Warn("controller status publish failed", "error", err)
	}

	if influxClient != nil {
		influxClient.WriteQueueMetric(status.QueueDepth, len(status.LockedEntities))
	}
}

// getConfigPath returns the configuration file path.
// Uses STATUSCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("STATUSCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(
	ctx context.Context,
	db *database.DB,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	apiServer *api.Server,
) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}

// mqttGatewayAdapter adapts the infrastructure MQTT client to the
// gateway's MQTTClient interface. The client's Subscribe takes a named
// handler type; the gateway declares the bare func signature.
type mqttGatewayAdapter struct {
	client *mqtt.Client
}

// Publish implements gateway.MQTTClient.
func (a *mqttGatewayAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements gateway.MQTTClient.
func (a *mqttGatewayAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return a.client.Subscribe(topic, qos, handler)
}
