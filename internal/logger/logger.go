// Package logger configures the process-wide zerolog logger: rotated JSON
// files for operators, optional pretty console output for development, and an
// optional Axiom forwarder for centralized search.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "docmill"

// Options defines logger initialization parameters.
type Options struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Axiom
	SendToAxiom  bool
	AxiomAPIKey  string
	AxiomOrgID   string
	AxiomDataset string
	AxiomFlush   time.Duration
}

var (
	global    zerolog.Logger
	forwarder *axiomForwarder
)

// Init installs the global logger. Sinks stack up from the options: rotated
// file, stdout (pretty or raw JSON), Axiom last because it may fail to
// initialize without taking the others down.
func Init(opts Options) error {
	sinks, err := buildSinks(opts)
	if err != nil {
		return err
	}

	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	global = zerolog.New(io.MultiWriter(sinks...)).Level(lvl).With().Timestamp().Logger()
	log.Logger = global
	return nil
}

func buildSinks(opts Options) ([]io.Writer, error) {
	var sinks []io.Writer

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create logs dir: %w", err)
		}
		sinks = append(sinks, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}

	if opts.Pretty {
		sinks = append(sinks, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		sinks = append(sinks, os.Stdout)
	}

	if opts.SendToAxiom && opts.AxiomAPIKey != "" {
		fw, err := newAxiomForwarder(opts)
		if err != nil {
			// Axiom being down must not block startup.
			fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
		} else {
			forwarder = fw
			sinks = append(sinks, fw)
		}
	}
	return sinks, nil
}

// Close flushes any buffered external loggers.
func Close() {
	if forwarder != nil {
		forwarder.shutdown()
	}
}

// Get returns the global logger.
func Get() *zerolog.Logger { return &global }

// axiomForwarder turns zerolog's JSON lines into Axiom events and ships them
// in batches. Writes never block: when the buffer is full, events are dropped
// rather than stalling a request path on a logging backend.
type axiomForwarder struct {
	client  *axiom.Client
	dataset string
	flush   time.Duration
	events  chan axiom.Event

	cancel context.CancelFunc
	done   sync.WaitGroup
}

const (
	forwarderBuffer = 1000
	batchLimit      = 200
)

func newAxiomForwarder(opts Options) (*axiomForwarder, error) {
	clientOpts := []axiom.Option{axiom.SetToken(opts.AxiomAPIKey)}
	if opts.AxiomOrgID != "" {
		clientOpts = append(clientOpts, axiom.SetOrganizationID(opts.AxiomOrgID))
	}
	client, err := axiom.NewClient(clientOpts...)
	if err != nil {
		return nil, err
	}

	dataset := opts.AxiomDataset
	if dataset == "" {
		dataset = "dev_" + serviceName
	}
	flush := opts.AxiomFlush
	if flush <= 0 {
		flush = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	fw := &axiomForwarder{
		client:  client,
		dataset: dataset,
		flush:   flush,
		events:  make(chan axiom.Event, forwarderBuffer),
		cancel:  cancel,
	}
	fw.done.Add(1)
	go fw.run(ctx)
	return fw, nil
}

// Write implements io.Writer for the zerolog multi-writer. Debug lines stay
// local; everything else becomes an event tagged with the service name.
func (fw *axiomForwarder) Write(p []byte) (int, error) {
	var ev map[string]interface{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = map[string]interface{}{"message": string(p), "level": "info"}
	}
	if lvl, ok := ev["level"].(string); ok && lvl == "debug" {
		return len(p), nil
	}
	ev["service"] = serviceName
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}

	select {
	case fw.events <- axiom.Event(ev):
	default:
	}
	return len(p), nil
}

func (fw *axiomForwarder) run(ctx context.Context) {
	defer fw.done.Done()
	ticker := time.NewTicker(fw.flush)
	defer ticker.Stop()

	batch := make([]axiom.Event, 0, batchLimit)
	for {
		select {
		case <-ctx.Done():
			fw.ship(batch)
			return
		case <-ticker.C:
			fw.ship(batch)
			batch = batch[:0]
		case ev := <-fw.events:
			batch = append(batch, ev)
			if len(batch) >= batchLimit {
				fw.ship(batch)
				batch = batch[:0]
			}
		}
	}
}

func (fw *axiomForwarder) ship(batch []axiom.Event) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_, _ = fw.client.IngestEvents(ctx, fw.dataset, batch)
}

func (fw *axiomForwarder) shutdown() {
	fw.cancel()
	fw.done.Wait()
}
