package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blemsg/internal/ble/protocol"
	"github.com/chaz8081/blemsg/internal/config"
)

// handler runs one messenger command. It is shared by the one-shot
// subcommands and the interactive shell.
type handler func(ctx context.Context, args []string) error

type command struct {
	name  string
	usage string
	short string
	run   handler
}

func (a *app) commands() []command {
	return []command{
		{"scan", "scan [duration]", "Scan for devices advertising the messaging service", a.runScan},
		{"connect", "connect <device-id>", "Connect to a device", a.runConnect},
		{"send", "send <device-id> <message>", "Send a message to a connected device", a.runSend},
		{"broadcast", "broadcast <message>", "Send a message to every connected device", a.runBroadcast},
		{"disconnect", "disconnect <device-id>", "Disconnect from a device", a.runDisconnect},
		{"list", "list", "List connected devices", a.runList},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "blemsg",
		Short: "Send JSON text messages to nearby BLE devices.",
		Long: `blemsg discovers peripherals advertising the Nordic UART service,
keeps a session with each connected device and delivers JSON text messages
to one device or all of them, split into BLE-sized writes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (default: ~/.config/blemsg/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.sender, "sender", "", "sender label stamped on outgoing messages")

	for _, c := range a.commands() {
		run := c.run
		root.AddCommand(&cobra.Command{
			Use:   c.usage,
			Short: c.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), args)
			},
		})
	}

	root.AddCommand(&cobra.Command{
		Use:   "listen <device-id>...",
		Short: "Connect to devices and print incoming messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runListen(cmd.Context(), args)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "Interactive session keeping connections open between commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runShell(cmd.Context(), cmd.InOrStdin())
		},
	})

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConfigInit()
		},
	})
	root.AddCommand(configCmd)

	return root
}

func (a *app) runScan(ctx context.Context, args []string) error {
	var duration time.Duration
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil || d <= 0 {
			return a.usage("scan [duration], e.g. scan 5s")
		}
		duration = d
	}

	m, err := a.messenger()
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintln(a.out, "Scanning for devices...")
	devices, err := m.Scan(ctx, duration)
	if err != nil {
		return a.fail(err)
	}
	if len(devices) == 0 {
		fmt.Fprintln(a.out, "No devices found")
		return nil
	}

	fmt.Fprintf(a.out, "Found %d device(s):\n", len(devices))
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(a.out, "  %s  %-20s  %d dBm\n", d.ID, name, d.RSSI)
	}
	return nil
}

func (a *app) runConnect(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return a.usage("connect <device-id>")
	}
	id := args[0]

	m, err := a.messenger()
	if err != nil {
		return a.fail(err)
	}
	if err := m.Connect(ctx, id); err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "Connected to %s\n", id)
	return nil
}

func (a *app) runSend(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return a.usage("send <device-id> <message>")
	}
	id, content := args[0], strings.Join(args[1:], " ")

	m, err := a.messenger()
	if err != nil {
		return a.fail(err)
	}
	if err := m.Send(ctx, id, content); err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "Message sent to %s\n", id)
	return nil
}

func (a *app) runBroadcast(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return a.usage("broadcast <message>")
	}
	content := strings.Join(args, " ")

	m, err := a.messenger()
	if err != nil {
		return a.fail(err)
	}
	if len(m.List()) == 0 {
		fmt.Fprintln(a.out, "No devices connected")
		return nil
	}
	n := m.Broadcast(ctx, content)
	fmt.Fprintf(a.out, "Message sent to %d device(s)\n", n)
	return nil
}

func (a *app) runDisconnect(_ context.Context, args []string) error {
	if len(args) < 1 {
		return a.usage("disconnect <device-id>")
	}
	id := args[0]

	m, err := a.messenger()
	if err != nil {
		return a.fail(err)
	}
	if err := m.Disconnect(id); err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "Disconnected from %s\n", id)
	return nil
}

// runList reports the devices connected during this invocation. It never
// brings up the adapter just to report an empty list.
func (a *app) runList(_ context.Context, _ []string) error {
	var ids []string
	if a.m != nil {
		ids = a.m.List()
	}
	if len(ids) == 0 {
		fmt.Fprintln(a.out, "No devices connected")
		return nil
	}
	fmt.Fprintf(a.out, "Connected devices (%d):\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(a.out, "  %s\n", id)
	}
	return nil
}

func (a *app) runListen(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return a.usage("listen <device-id>...")
	}

	m, err := a.messenger()
	if err != nil {
		return a.fail(err)
	}
	m.OnMessage(func(peerID string, msg *protocol.Message) {
		fmt.Fprintf(a.out, "[%s] %s %s: %s\n", msg.Time().Format(time.TimeOnly), peerID, msg.Sender, msg.Content)
	})

	connected := 0
	for _, id := range ids {
		if err := m.Connect(ctx, id); err != nil {
			if ferr := a.fail(err); ferr != nil {
				return ferr
			}
			continue
		}
		connected++
		fmt.Fprintf(a.out, "Listening on %s\n", id)
	}
	if connected == 0 {
		return nil
	}

	fmt.Fprintln(a.out, "Press Ctrl+C to stop.")
	<-ctx.Done()
	return nil
}

func (a *app) runConfigInit() error {
	path, err := config.WriteDefault()
	if err != nil {
		return a.fail(err)
	}
	if path == "" {
		fmt.Fprintf(a.out, "Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Fprintf(a.out, "Wrote default config to %s\n", path)
	return nil
}
