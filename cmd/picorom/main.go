package main

import (
	"github.com/alecthomas/kong"

	"github.com/wickerwaka/PicoROM/internal/cli"
)

func main() {
	var root cli.CLI
	ctx := kong.Parse(&root,
		kong.Name("picorom"),
		kong.Description("PicoROM controller"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&root))
}
