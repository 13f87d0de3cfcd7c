package main

import (
	"flag"
	"fmt"
	"imagecache/pkg/engine"
	"imagecache/pkg/images"
	"os"
	"path/filepath"
)

const defaultConfigPath = "imagecache.config.yaml"

func printRootHelp() {
	fmt.Println(`imagecache - two-tier image cache backed by memory and disk

Usage:
  imagecache <command> [options]

Available Commands:
  serve     Start the image cache server
  down      Stop the image cache server
  init      Write a default config file
  get       Load a single image and save it as PNG
  help      Show help for a command

Run 'imagecache help <command>' for details on a specific command.`)
}

func printServeHelp() {
	fmt.Println(`Usage:
  imagecache serve [--config <path>]

Options:
  --config   Path to config YAML file (default: ./imagecache.config.yaml)`)
}

func printDownHelp() {
	fmt.Println(`Usage:
  imagecache down [--config <path>]

Options:
  --config   Path to config YAML file (default: ./imagecache.config.yaml)`)
}

func printInitHelp() {
	fmt.Println(`Usage:
  imagecache init [--config <path>]

Options:
  --config   Where to write the config YAML file (default: ./imagecache.config.yaml)`)
}

func printGetHelp() {
	fmt.Println(`Usage:
  imagecache get [--config <path>] --out <file.png> <url>

Options:
  --config   Path to config YAML file (default: ./imagecache.config.yaml)
  --out      Where to write the PNG (required)`)
}

func parseConfigFlag(name string, args []string, mustExist bool) string {
	cmd := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := cmd.String("config", defaultConfigPath, "Path to configuration YAML file")
	return resolveConfig(cmd, configPath, args, mustExist)
}

func resolveConfig(cmd *flag.FlagSet, configPath *string, args []string, mustExist bool) string {
	if err := cmd.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	absPath, err := filepath.Abs(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to resolve config path: %v\n", err)
		os.Exit(1)
	}

	if mustExist {
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Config file not found: %s\n", absPath)
			os.Exit(1)
		}
	}
	return absPath
}

func runGet(args []string) {
	cmd := flag.NewFlagSet("get", flag.ExitOnError)
	configPath := cmd.String("config", defaultConfigPath, "Path to configuration YAML file")
	outPath := cmd.String("out", "", "Where to write the PNG")
	absPath := resolveConfig(cmd, configPath, args, true)

	if cmd.NArg() != 1 || *outPath == "" {
		printGetHelp()
		os.Exit(1)
	}
	key := cmd.Arg(0)

	imageEngine, err := engine.InstantiateEngine(absPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to start the image cache: %v\n", err)
		os.Exit(1)
	}
	defer imageEngine.Close()

	done := make(chan *images.Image, 1)
	imageEngine.CacheManager().GetImage(key, func(img *images.Image) {
		done <- img
	})

	img := <-done
	if img == nil {
		fmt.Fprintf(os.Stderr, "no image for %s\n", key)
		imageEngine.Close()
		os.Exit(1)
	}

	data, err := images.NewPNGCodec().Encode(img)
	if err == nil {
		err = os.WriteFile(*outPath, data, 0o644)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to write %s: %v\n", *outPath, err)
		imageEngine.Close()
		os.Exit(1)
	}
	fmt.Printf("Wrote %dx%d image to %s\n", img.Width(), img.Height(), *outPath)
}

func main() {
	if len(os.Args) < 2 {
		printRootHelp()
		os.Exit(1)
	}

	switch os.Args[1] {

	case "serve":
		absPath := parseConfigFlag("serve", os.Args[2:], true)

		imageEngine, err := engine.InstantiateEngine(absPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to start the image cache: %v\n", err)
			os.Exit(1)
		}
		if err := imageEngine.Run(); err != nil {
			os.Exit(1)
		}

	case "down":
		absPath := parseConfigFlag("down", os.Args[2:], true)

		if err := engine.KillEngine(absPath); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to stop the image cache at %s: %v\n", absPath, err)
			os.Exit(1)
		}
		fmt.Printf("Shut down image cache at %s\n", absPath)

	case "init":
		absPath := parseConfigFlag("init", os.Args[2:], false)

		if err := engine.InitConfig(absPath); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to write config to %s: %v\n", absPath, err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default config to %s\n", absPath)

	case "get":
		runGet(os.Args[2:])

	case "help":
		if len(os.Args) == 2 {
			printRootHelp()
		} else {
			switch os.Args[2] {
			case "serve":
				printServeHelp()
			case "down":
				printDownHelp()
			case "init":
				printInitHelp()
			case "get":
				printGetHelp()
			default:
				fmt.Printf("Unknown help topic: %s\n", os.Args[2])
				printRootHelp()
				os.Exit(1)
			}
		}

	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printRootHelp()
		os.Exit(1)
	}
}
