// Command quotactl inspects and administers quotagate counters.
package main

import (
	"io"
	"os"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Policy PolicyCmd `cmd:"" help:"Print the effective policy table."`
	Key    KeyCmd    `cmd:"" help:"Encode or decode counter keys."`
	Usage  UsageCmd  `cmd:"" help:"Show a caller's current usage."`
	Reset  ResetCmd  `cmd:"" help:"Remove a caller's counter for the current window."`

	Config string `short:"c" help:"Path to the YAML config file." type:"path" env:"QUOTAGATE_CONFIG"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("quotactl"),
		kong.Description("Administer quotagate counters and policy."),
		kong.UsageOnError(),
		kong.BindTo(os.Stdout, (*io.Writer)(nil)),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
