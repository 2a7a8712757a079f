package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/chaz8081/blemsg/internal/ble"
	"github.com/chaz8081/blemsg/internal/config"
	"github.com/chaz8081/blemsg/internal/messenger"
	"github.com/chaz8081/blemsg/internal/session"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	logLevel   string
	sender     string

	out    io.Writer
	errOut io.Writer

	newAdapter func() ble.Adapter

	cfg *config.Config
	log *slog.Logger
	m   *messenger.Messenger
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:    out,
		errOut: errOut,
		newAdapter: func() ble.Adapter {
			return ble.NewTinyGoAdapter()
		},
	}
}

// setup loads the config, applies flag overrides and installs the logger.
// It runs once per invocation.
func (a *app) setup() error {
	if a.cfg != nil {
		return nil
	}

	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return &configError{err: err}
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.sender != "" {
		cfg.Sender = a.sender
	}
	if err := cfg.Validate(); err != nil {
		return &configError{err: fmt.Errorf("validation: %w", err)}
	}

	a.cfg = cfg
	a.log = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(a.log)
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if defaultPath == "" {
		return config.Default(), nil
	}
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// messenger returns the invocation's Messenger, enabling the adapter on
// first use.
func (a *app) messenger() (*messenger.Messenger, error) {
	if a.m != nil {
		return a.m, nil
	}
	if err := a.setup(); err != nil {
		return nil, err
	}

	a.log.Debug("[BLE] initializing adapter")
	m, err := messenger.New(a.newAdapter(), session.NewRegistry(), messengerOptions(a.cfg, a.log))
	if err != nil {
		return nil, err
	}
	a.m = m
	return m, nil
}

// close releases every link opened during the invocation.
func (a *app) close() {
	if a.m != nil {
		a.m.Cleanup()
	}
}

func messengerOptions(cfg *config.Config, log *slog.Logger) messenger.Options {
	return messenger.Options{
		Sender:               cfg.Sender,
		ChunkSize:            cfg.BLE.ChunkSize,
		InterChunkDelay:      cfg.BLE.InterChunkDelay,
		ScanDuration:         cfg.BLE.ScanDuration,
		ConnectTimeout:       cfg.BLE.ConnectTimeout,
		ConnectPolicy:        messenger.ConnectPolicy(cfg.BLE.ConnectPolicy),
		BroadcastConcurrency: cfg.BLE.BroadcastConcurrency,
		Logger:               log,
	}
}

// fail prints a one-line error for a failed command. Only errors that leave
// nothing else able to proceed are returned to the caller.
func (a *app) fail(err error) error {
	if isFatal(err) {
		return err
	}
	fmt.Fprintf(a.errOut, "error: %v\n", err)
	return nil
}

func (a *app) usage(line string) error {
	fmt.Fprintf(a.errOut, "usage: %s\n", line)
	return nil
}

type configError struct{ err error }

func (e *configError) Error() string { return "config: " + e.err.Error() }

func (e *configError) Unwrap() error { return e.err }

func isFatal(err error) bool {
	var cerr *configError
	return errors.Is(err, messenger.ErrAdapterUnavailable) || errors.As(err, &cerr)
}
