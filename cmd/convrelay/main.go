package main

import (
	"embed"
	"io/fs"
	"os"

	"github.com/go-go-golems/convrelay/cmd/convrelay/cmds"
	"github.com/rs/zerolog/log"
)

//go:embed static/*
var staticFS embed.FS

func main() {
	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatal().Err(err).Msg("static assets")
	}
	if err := cmds.NewRootCommand(static).Execute(); err != nil {
		os.Exit(1)
	}
}
