// Command hydrant streams raw bytes from a file or standard input into
// PostgreSQL through the bulk-copy protocol.
//
// Usage:
//
//	hydrant [config_path] [input_path]
//
// With no config path, configuration comes from HYDRANT_DB_URL and
// HYDRANT_BATCH_SIZE. With no input path, bytes are read from standard
// input until EOF. Exits 0 on clean shutdown, 1 on init failure or an
// unreadable input file.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/koustreak/hydrant/internal/hydrant"
	"github.com/koustreak/hydrant/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath, inputPath string
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if len(os.Args) > 2 {
		inputPath = os.Args[2]
	}

	log := logger.Default()
	ctx := context.Background()

	p, err := hydrant.New(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Hydrant: %v\n", err)
		return 1
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Signal received, shutting down")
		p.RequestShutdown(ctx)
	}()

	var in io.Reader = os.Stdin
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			log.Errorf("Unable to open input file: %s", inputPath)
			p.RequestShutdown(ctx)
			return 1
		}
		defer f.Close()
		log.Infof("Processing input from file: %s", inputPath)
		in = f
	} else {
		log.Info("Processing input from STDIN")
	}

	p.ProcessInput(ctx, in)

	if status, err := p.DetailedStatus(); err == nil {
		log.Infof("Detailed status: %s", status)
	}

	p.RequestShutdown(ctx)
	log.Info("Hydrant system shutdown complete")
	return 0
}
