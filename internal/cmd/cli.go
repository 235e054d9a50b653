// Package cmd declares the kong command tree for uvcd.
package cmd

// CLI is the root command structure parsed by kong. Values may come
// from flags, environment variables, or layered config files.
type CLI struct {
	Log struct {
		Level   string `help:"Log level (trace, debug, info, warn, error)" default:"info" env:"UVCD_LOG_LEVEL"`
		File    string `help:"Also write logs to this file (console logging then goes to stderr only)" env:"UVCD_LOG_FILE"`
		RawFile string `help:"Dump raw control traffic to this file" env:"UVCD_LOG_RAW_FILE"`
	} `embed:"" prefix:"log."`

	ConfigFile string `name:"config" help:"Path to a configuration file" env:"UVCD_CONFIG"`

	Stream Stream        `cmd:"" default:"withargs" help:"Run the UVC gadget daemon"`
	Config ConfigCommand `cmd:"" help:"Configuration file helpers"`
}
