// ABOUTME: Entry point for redmine-bridge
// ABOUTME: Parses global flags, loads .env, and dispatches the serve, init, and encrypt commands

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/2389/redmine-bridge/internal/config"
)

// version is set at build time.
var version = "dev"

const banner = `
    ╭────────────────────────────────────╮
    │                                    │
    │   ┏━┓┏━╸╺┳┓┏┳┓╻┏┓╻┏━╸   ┏┓ ┏━┓╻╺┳┓ │
    │   ┣┳┛┣╸  ┃┃┃┃┃┃┃┗┫┣╸    ┣┻┓┣┳┛┃ ┃┃ │
    │   ╹┗╸┗━╸╺┻┛╹ ╹╹╹ ╹┗━╸   ┗━┛╹┗╸╹╺┻┛ │
    │                                    │
    │        redmine ⇄ matrix bridge     │
    │                                    │
    ╰────────────────────────────────────╯
`

type globalFlags struct {
	configPath string
	envFile    string
	force      bool
	help       bool
}

func newFlagSet(g *globalFlags) *pflag.FlagSet {
	set := pflag.NewFlagSet("redmine-bridge", pflag.ContinueOnError)
	set.StringVarP(&g.configPath, "config", "c", "", "config file (default: $REDMINE_BRIDGE_CONFIG or $XDG_CONFIG_HOME/redmine-bridge/config.yaml)")
	set.StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the config is read")
	set.BoolVar(&g.force, "force", false, "init: overwrite an existing config file")
	set.BoolVarP(&g.help, "help", "h", false, "show help")
	return set
}

func printUsage(set *pflag.FlagSet) {
	fmt.Println("Usage: redmine-bridge [flags] <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve            Run the Matrix bridge and the webhook listener")
	fmt.Println("  init             Write a commented config template")
	fmt.Println("  encrypt [VALUE]  Print the enc: form of a config value (reads stdin without VALUE)")
	fmt.Println("  version          Print the version")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Print(set.FlagUsages())
}

func main() {
	var g globalFlags
	flags := newFlagSet(&g)
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(flags)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	args := flags.Args()
	if g.help || len(args) == 0 {
		printUsage(flags)
		if len(args) == 0 && !g.help {
			os.Exit(1)
		}
		return
	}

	if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: loading %s: %v\n", g.envFile, err)
	}
	if g.configPath == "" {
		g.configPath = config.DefaultPath()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch args[0] {
	case "serve":
		err = runServe(ctx, g.configPath)
	case "init":
		err = runInit(g.configPath, g.force)
	case "encrypt":
		err = runEncrypt(ctx, g.configPath, args[1:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}
