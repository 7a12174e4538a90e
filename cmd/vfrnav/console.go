package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/vfrnav/vfrnav/pkg/bus"
	"github.com/vfrnav/vfrnav/pkg/protocol"
	"github.com/vfrnav/vfrnav/pkg/schema"
	"github.com/vfrnav/vfrnav/pkg/transport"
)

var consoleURL string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive console speaking the bridge protocol",
	Long: `Connects to a running bridge as a panel would. Type a message kind followed
by its JSON payload, e.g.

  GetMetar {"icao":"LFPN"}

Every message the bridge sends back is printed.`,
	RunE: runConsole,
}

func init() {
	consoleCmd.Flags().StringVar(&consoleURL, "url", "", "bridge WebSocket URL (default from config)")
}

func runConsole(cmd *cobra.Command, args []string) error {
	url := consoleURL
	if url == "" {
		url = "ws://" + cfg.ListenAddr() + "/api/ws"
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	conn, err := transport.Dial(ctx, url, nil, transport.WSOptions{
		ReadLimit: cfg.Bridge.ReadLimit,
		Name:      "console",
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "vfrnav> ",
		HistoryFile:     filepath.Join(filepath.Dir(cfg.Storage.Dir), "console_history"),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	table := loadSchemas()
	h := bus.New(conn, bus.WithSchemas(table), bus.WithName("console"))
	for _, id := range protocol.AllMessageIDs() {
		h.Subscribe(id, func(d bus.Delivery) error {
			fmt.Fprintf(rl.Stdout(), "<- %s %s\n", d.ID, d.Raw)
			return nil
		})
	}
	go h.Listen(ctx, conn)

	fmt.Fprintf(rl.Stdout(), "connected to %s (help for commands)\n", url)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		quit, err := consoleLine(ctx, h, table, rl.Stdout(), line)
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// consoleLine runs one console command. It reports whether to exit.
func consoleLine(ctx context.Context, h *bus.MessageHandler, table map[protocol.MessageID]*schema.Schema, out io.Writer, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	name, payload, _ := strings.Cut(line, " ")

	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(out, "  <MessageKind> [json]   send a message")
		fmt.Fprintln(out, "  kinds                  list message kinds")
		fmt.Fprintln(out, "  quit                   leave")
		return false, nil
	case "kinds":
		for _, id := range protocol.AllMessageIDs() {
			fmt.Fprintln(out, " ", id)
		}
		return false, nil
	}

	id := protocol.MessageID(name)
	if !id.Valid() {
		return false, fmt.Errorf("%w: %q", protocol.ErrUnknownMessage, name)
	}
	value, err := decodeValue([]byte(payload))
	if err != nil {
		return false, err
	}
	if s := table[id]; s != nil {
		if path, ok := schema.Check(value, s); !ok {
			return false, fmt.Errorf("%w: %s at %s (want %s)", errPayloadMismatch, id, path, s)
		}
	}
	if err := h.SendValue(ctx, id, value); err != nil {
		return false, err
	}
	fmt.Fprintf(out, "-> %s\n", id)
	return false, nil
}

func completer() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("kinds"),
		readline.PcItem("quit"),
	}
	for _, id := range protocol.AllMessageIDs() {
		items = append(items, readline.PcItem(id.String()))
	}
	return readline.NewPrefixCompleter(items...)
}
