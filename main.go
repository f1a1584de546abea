package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Global debug flag
var DebugMode bool

// Global start time for process uptime tracking
var StartTime time.Time

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// httpLogger creates a logging middleware that logs requests in Apache combined log format
func httpLogger(logFile *os.File, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		userAgent := r.Header.Get("User-Agent")
		if userAgent == "" {
			userAgent = "-"
		}
		referer := r.Referer()
		if referer == "" {
			referer = "-"
		}

		// WebSocket upgrades hijack the connection, so log them up front
		// with the assumed 101 status.
		if r.Header.Get("Upgrade") == "websocket" {
			logLine := fmt.Sprintf("%s - - [%s] \"%s %s %s\" 101 - \"%s\" \"%s\" 0.000ms\n",
				r.RemoteAddr,
				start.Format("02/Jan/2006:15:04:05 -0700"),
				r.Method,
				r.RequestURI,
				r.Proto,
				referer,
				userAgent,
			)
			if _, err := logFile.WriteString(logLine); err != nil {
				log.Printf("Error writing to access log: %v", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		logLine := fmt.Sprintf("%s - - [%s] \"%s %s %s\" %d %d \"%s\" \"%s\" %.3fms\n",
			r.RemoteAddr,
			start.Format("02/Jan/2006:15:04:05 -0700"),
			r.Method,
			r.RequestURI,
			r.Proto,
			wrapped.statusCode,
			wrapped.written,
			referer,
			userAgent,
			float64(duration.Microseconds())/1000.0,
		)
		if _, err := logFile.WriteString(logLine); err != nil {
			log.Printf("Error writing to access log: %v", err)
		}
	})
}

// corsMiddleware adds permissive CORS headers when enabled in the config
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	DebugMode = *debug
	StartTime = time.Now()

	config, err := LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Loaded config from %s (board driver: %s, sample rate: %d Hz)",
		*configFile, config.Board.Driver, config.Board.SampleRate)

	var metrics *Metrics
	if config.Prometheus.Enabled {
		metrics = NewMetrics()
	}

	var store *Store
	if config.Storage.Enabled {
		store, err = NewStore(config.Storage.Path)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		defer store.Close()
	}

	guard := &BoardGuard{}
	newDriver := func() (BoardDriver, error) {
		return NewBoardDriver(&config.Board)
	}

	hub := NewHub("stream")
	hub.SetMetrics(metrics)

	streamer := NewStreamer(config, guard, newDriver)
	streamer.SetMetrics(metrics)
	streamer.AddPublisher(hub)

	if store != nil {
		streamer.SetStore(store)
		if values, err := store.LatestCalibration(); err != nil {
			log.Printf("Failed to load last calibration: %v", err)
		} else if values != nil {
			streamer.SetCalibration(values)
			log.Printf("Restored calibration vector from store")
		}
	}

	var mqttPublisher *MQTTPublisher
	if config.MQTT.Enabled {
		mqttPublisher, err = NewMQTTPublisher(&config.MQTT)
		if err != nil {
			log.Fatalf("Failed to connect MQTT publisher: %v", err)
		}
		defer mqttPublisher.Close()
		streamer.AddPublisher(mqttPublisher)
	}

	http.HandleFunc("/start-analysis", func(w http.ResponseWriter, r *http.Request) {
		handleStartAnalysis(w, r, streamer)
	})
	http.HandleFunc("/stop-analysis", func(w http.ResponseWriter, r *http.Request) {
		handleStopAnalysis(w, r, streamer)
	})
	http.HandleFunc("/calibrate", func(w http.ResponseWriter, r *http.Request) {
		handleCalibrate(w, r, streamer)
	})
	http.HandleFunc("/update-settings", func(w http.ResponseWriter, r *http.Request) {
		handleUpdateSettings(w, r, streamer)
	})
	http.HandleFunc("/export-data", func(w http.ResponseWriter, r *http.Request) {
		handleExportData(w, r, streamer, metrics)
	})
	http.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(w, r, streamer, hub, config)
	})
	http.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		handleHealthAPI(w, r, streamer)
	})
	http.HandleFunc("/ws", hub.HandleWebSocket)

	spectrumStop := make(chan struct{})
	if config.Spectrum.Enabled {
		spectrumHub := NewHub("spectrum")
		spectrumHub.SetMetrics(metrics)
		http.HandleFunc("/ws/spectrum", spectrumHub.HandleWebSocket)

		broadcaster := NewSpectrumBroadcaster(config, streamer, spectrumHub)
		go broadcaster.Run(spectrumStop)
	}

	if config.Prometheus.Enabled {
		http.Handle(config.Prometheus.Path, promhttp.Handler())
		log.Printf("Prometheus metrics enabled at %s", config.Prometheus.Path)
	}

	var handler http.Handler = http.DefaultServeMux
	if config.Server.EnableCORS {
		handler = corsMiddleware(handler)
	}
	if config.Server.LogFileEnabled {
		logFile, err := os.OpenFile(config.Server.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("Failed to open access log: %v", err)
		}
		defer logFile.Close()
		handler = httpLogger(logFile, handler)
	}

	server := &http.Server{
		Addr:    config.Server.Listen,
		Handler: handler,
	}

	go func() {
		log.Printf("Listening on %s", config.Server.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down...", sig)

	close(spectrumStop)
	streamer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}
