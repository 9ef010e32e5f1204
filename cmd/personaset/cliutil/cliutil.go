// Package cliutil holds helpers shared by the personaset subcommands.
package cliutil

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/personaset/internal/config"
	"github.com/MrWong99/personaset/pkg/dataset"
)

// ConfigFlag is the persistent root flag naming the YAML config file.
const ConfigFlag = "config"

// DefaultConfigPath is used when --config is not given. A missing file at
// this path is not an error; built-in defaults apply.
const DefaultConfigPath = "personaset.yaml"

// AddConfigFlag registers the persistent --config flag on root.
func AddConfigFlag(root *cobra.Command) {
	root.PersistentFlags().StringP(ConfigFlag, "c", DefaultConfigPath, "Path to the YAML configuration file")
}

// LoadConfig loads the file named by the --config flag of cmd.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := DefaultConfigPath
	explicit := false
	if f := cmd.Flag(ConfigFlag); f != nil {
		path = f.Value.String()
		explicit = f.Changed
	}

	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		slog.Debug("no config file, using defaults", "path", path)
		return config.LoadFromReader(strings.NewReader(""))
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// nopCloser wraps stdout so callers can always Close the output.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// CreateOutput opens path for writing. "-" or "" selects the command's
// standard output.
func CreateOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{cmd.OutOrStdout()}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("could not create %s: %w", path, err)
	}
	return f, nil
}

// ReadDataset reads a JSONL dataset whose records are stored under key.
// "-" reads the command's standard input.
func ReadDataset(cmd *cobra.Command, path, key string) (dataset.Dataset, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("could not open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	d, err := dataset.ReadJSONL(r, key)
	if err != nil {
		return nil, fmt.Errorf("could not read dataset %s: %w", path, err)
	}
	return d, nil
}
