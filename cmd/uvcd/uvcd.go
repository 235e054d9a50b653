package main

import (
	"os"
	"strings"

	"github.com/hexvoid/uvcd/internal/cmd"
	"github.com/hexvoid/uvcd/internal/configpaths"
	"github.com/hexvoid/uvcd/internal/log"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"
)

func main() {
	userCfg := findUserConfig(os.Args[1:])
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths(userCfg)

	var cli cmd.CLI
	ctx := kong.Parse(&cli,
		kong.Name("uvcd"),
		kong.Description("UVC gadget userspace daemon"),
		kong.UsageOnError(),
		// Load configuration from JSON/YAML/TOML in priority order;
		// flags and env vars override config values.
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, rawLogger, closeFiles, err := log.Setup(log.Config{
		Level:   cli.Log.Level,
		File:    cli.Log.File,
		RawFile: cli.Log.RawFile,
	})
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		for _, c := range closeFiles {
			_ = c.Close()
		}
	}()

	ctx.Bind(logger)
	ctx.BindTo(rawLogger, (*log.RawLogger)(nil))

	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}

func findUserConfig(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--config=") {
			return a[len("--config="):]
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	if v := os.Getenv("UVCD_CONFIG"); v != "" {
		return v
	}
	return ""
}
