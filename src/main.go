package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ryansname/sensorctl/src/clock"
	"github.com/ryansname/sensorctl/src/config"
	"github.com/ryansname/sensorctl/src/sampling"
	"github.com/ryansname/sensorctl/src/sensors"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// Returned normally, either cancelled or done
			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// openDrivers creates the probe bus and combo sensor for cfg. The combo
// sensor is nil when its serial bridge cannot be opened; its channels then
// read invalid.
func openDrivers(cfg config.SensorsConfig) (sensors.ProbeBus, sensors.ComboSensor, func()) {
	if cfg.Simulate {
		log.Printf("Using simulated sensors (dropout %.0f%%)\n", cfg.SimDropout*100)
		seed := uint64(time.Now().UnixNano())
		return sensors.NewSimBus(seed, cfg.SimDropout), sensors.NewSimCombo(seed, cfg.SimDropout), func() {}
	}

	probes := sensors.NewW1Bus(cfg.W1DevicesPath)

	bridge, err := sensors.OpenSerialBridge(cfg.SerialPort, cfg.SerialBaud, cfg.SerialTimeout)
	if err != nil {
		log.Printf("Warning: combo sensor unavailable: %v\n", err)
		return probes, nil, func() {}
	}
	return probes, bridge, func() { _ = bridge.Close() }
}

func main() {
	configPath := flag.String("config", "sensorctl.yaml", "Path to the YAML configuration file")
	debug := flag.Bool("debug", false, "Start the interactive debug console")
	simulate := flag.Bool("simulate", false, "Use simulated sensors")
	writeConfig := flag.Bool("write-config", false, "Write the effective configuration to -config and exit")
	flag.Parse()

	log.Println("Starting sensorctl...")

	config.LoadEnv()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ApplyEnv()
	if *simulate {
		cfg.Sensors.Simulate = true
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if *writeConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		log.Printf("Wrote %s\n", *configPath)
		return
	}

	if cfg.Webhook.URL == "" {
		log.Println("Warning: no webhook URL configured, reports will not be delivered")
	}

	// Create context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())

	// Clock
	ntpClock := clock.NewNTPClock(cfg.Clock.QueryTimeout, cfg.Clock.NTPPrimary, cfg.Clock.NTPSecondary)
	resyncChan := make(chan struct{}, 1)
	SafeGo(ctx, cancel, "clock-worker", func(ctx context.Context) {
		clock.Worker(ctx, ntpClock, resyncChan)
	})

	// Sensors
	probes, combo, closeDrivers := openDrivers(cfg.Sensors)
	defer closeDrivers()
	sampler := NewSampler(cfg.Channels, probes, combo)

	// Live telemetry sink
	device := DeviceInfo{Name: cfg.MQTT.DeviceName, Manufacturer: cfg.MQTT.Manufacturer}
	var mirror *LiveMirror
	if cfg.MQTT.Disabled {
		log.Println("MQTT disabled, live values will not be mirrored")
	} else {
		mqttOutgoingChan := make(chan MQTTMessage, 100) // Larger buffer for queuing
		mqttClientChan := make(chan mqtt.Client, 1)     // Buffered to prevent blocking onConnect
		onlineChan := make(chan struct{}, 1)

		SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
			mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan)
		})

		mqttSender := NewMQTTSender(mqttOutgoingChan)
		mirror = NewLiveMirror(device, cfg.ChannelKeys(), cfg.MQTT.MinUpdateInterval, mqttSender)

		SafeGo(ctx, cancel, "discovery-worker", func(ctx context.Context) {
			discoveryWorker(ctx, mqttSender, device, cfg.Channels, onlineChan)
		})

		mqttConfig := cfg.MQTT
		SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
			mqttWorker(ctx, mqttConfig, onlineChan, mqttClientChan)
		})
		log.Println("MQTT workers started")
	}

	// Report delivery
	sink := NewWebhookSink(cfg.Webhook)
	scheduler := NewScheduler(schedulerConfigFrom(cfg), ntpClock, sampler, sink, mirror)

	resultChan := make(chan DeliveryResult, 1)
	if cfg.Webhook.Async {
		reportChan := make(chan sampling.Report, 4)
		scheduler.DeliverAsync(reportChan)
		SafeGo(ctx, cancel, "delivery-worker", func(ctx context.Context) {
			deliveryWorker(ctx, reportChan, sink, resultChan)
		})
	}

	// Status fan-out
	statusChan := make(chan StatusSnapshot, 10)
	var downstreamChans []chan<- StatusSnapshot

	if cfg.Status.Listen != "" {
		serverChan := make(chan StatusSnapshot, 10)
		downstreamChans = append(downstreamChans, serverChan)
		listen := cfg.Status.Listen
		SafeGo(ctx, cancel, "status-server", func(ctx context.Context) {
			statusServerWorker(ctx, listen, serverChan)
		})
	}

	if *debug {
		debugChan := make(chan StatusSnapshot, 10)
		downstreamChans = append(downstreamChans, debugChan)
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, debugChan)
		})
	}

	SafeGo(ctx, cancel, "broadcast-worker", func(ctx context.Context) {
		broadcastWorker(ctx, statusChan, downstreamChans)
	})

	SafeGo(ctx, cancel, "scheduler", func(ctx context.Context) {
		schedulerWorker(ctx, scheduler, statusChan, resyncChan, resultChan)
	})

	// Wait for interrupt signal or context cancellation (from panic)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("Shutting down...")
	case <-ctx.Done():
		log.Println("Shutting down due to error...")
	}
	cancel()
}
