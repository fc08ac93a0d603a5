package main

import (
	"bufio"
	"os"
	"reflect"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/outofforest/pcs/link"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	seedFlag = &cli.Uint64Flag{
		Name:  "seed",
		Usage: "Seed of the traffic and bit error pattern, overrides the one from configuration file",
	}
	cyclesFlag = &cli.Uint64Flag{
		Name:  "cycles",
		Usage: "Number of core cycles to simulate, overrides the one from configuration file",
	}
	sessionsFlag = &cli.IntFlag{
		Name:  "sessions",
		Usage: "Number of sessions run in parallel, each with the next seed",
		Value: 4,
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return errors.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

func loadConfig(file string, cfg *link.Config) error {
	f, err := os.Open(file)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg); err != nil {
		return errors.Wrapf(err, "loading %s", file)
	}
	return nil
}

// loadBaseConfig loads session configuration based on the given command line parameters and config file.
func loadBaseConfig(ctx *cli.Context) (link.Config, error) {
	cfg := link.DefaultConfig

	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return link.Config{}, err
		}
	}

	if ctx.IsSet(seedFlag.Name) {
		cfg.Seed = ctx.Uint64(seedFlag.Name)
	}
	if ctx.IsSet(cyclesFlag.Name) {
		cfg.Cycles = ctx.Uint64(cyclesFlag.Name)
	}
	return cfg, cfg.Validate()
}
