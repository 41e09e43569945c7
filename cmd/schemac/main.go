// Command schemac compiles TOML struct definitions into a binary schema file.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/edgeipc/internal/logging"
	"github.com/danmuck/edgeipc/internal/protocol/structs"
)

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "schemac: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("schemac", flag.ContinueOnError)
	fs.SetOutput(stdout)
	input := fs.String("input", "structs.toml", "struct definition file")
	output := fs.String("output", "structs.bin", "schema file to write")
	orderName := fs.String("order", "native", "file byte order: native|little|big")
	if err := fs.Parse(args); err != nil {
		return err
	}

	order, err := parseOrder(*orderName)
	if err != nil {
		return err
	}
	def, err := structs.LoadDefs(*input)
	if err != nil {
		return err
	}
	if err := (structs.Writer{Order: order}).WriteFile(*output, def); err != nil {
		return err
	}
	logger := logging.For("schemac")
	logger.Info().
		Str("input", *input).
		Str("output", *output).
		Str("order", *orderName).
		Int("structs", len(def.Structs)).
		Msg("schema written")
	return nil
}

func parseOrder(name string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "native", "host":
		return binary.NativeEndian, nil
	case "little", "le":
		return binary.LittleEndian, nil
	case "big", "be":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order: %s", name)
	}
}
