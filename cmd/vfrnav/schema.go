package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vfrnav/vfrnav/pkg/protocol"
	"github.com/vfrnav/vfrnav/pkg/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect and test message schemas",
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List message kinds with their schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		table := loadSchemas()
		out := cmd.OutOrStdout()
		for _, id := range protocol.AllMessageIDs() {
			s := table[id]
			if s == nil {
				fmt.Fprintf(out, "%-16s (untyped)\n", id)
				continue
			}
			fmt.Fprintf(out, "%-16s %s\n", id, s)
		}
		return nil
	},
}

var schemaShowCmd = &cobra.Command{
	Use:   "show [message-id]",
	Short: "Print a message schema in its YAML form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := protocol.MessageID(args[0])
		if !id.Valid() {
			return fmt.Errorf("%w: %q", protocol.ErrUnknownMessage, args[0])
		}
		s := loadSchemas()[id]
		if s == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is untyped\n", id)
			return nil
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(map[string]*schema.Schema{"record": s})
	},
}

var schemaCheckCmd = &cobra.Command{
	Use:   "check [message-id] [file]",
	Short: "Validate a JSON payload and print its reduced form",
	Long: `Reads a JSON payload from file (or stdin), checks it against the schema of
the given message kind and prints the value that would go on the wire.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if len(args) == 2 {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		out, err := checkPayload(loadSchemas(), protocol.MessageID(args[0]), data)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaListCmd, schemaShowCmd, schemaCheckCmd)
}

var errPayloadMismatch = errors.New("payload does not match schema")

// checkPayload validates data against the schema for id and returns the
// reduced payload as JSON.
func checkPayload(table map[protocol.MessageID]*schema.Schema, id protocol.MessageID, data []byte) ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %q", protocol.ErrUnknownMessage, id)
	}
	value, err := decodeValue(data)
	if err != nil {
		return nil, err
	}
	s := table[id]
	if s == nil {
		return json.Marshal(value)
	}
	if path, ok := schema.Check(value, s); !ok {
		return nil, fmt.Errorf("%w: %s at %s (want %s)", errPayloadMismatch, id, path, s)
	}
	reduced, _ := schema.Reduce(value, s)
	return json.Marshal(reduced)
}

func decodeValue(data []byte) (any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return v, nil
}
