package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/RichardKnop/minikv"
	"github.com/RichardKnop/minikv/internal/pkg/logging"
)

const (
	cliName string = "minikv"
)

var (
	dbFlag string
)

func init() {
	flag.StringVar(&dbFlag, "db", "minikv.db", "Database connection string, a file path with optional ?param=value settings")
}

func printPrompt() {
	fmt.Print(cliName, "> ")
}

func sanitizeReplInput(input string) string {
	return strings.TrimSpace(input)
}

type metaCommand int

const (
	Unknown metaCommand = iota + 1
	Help
	Exit
	ListTables
	ShowStats
	Demo
)

func isMetaCommand(inputBuffer string) bool {
	return len(inputBuffer) > 0 && inputBuffer[:1] == "."
}

func doMetaCommand(inputBuffer string) metaCommand {
	switch strings.ToLower(inputBuffer) {
	case "help":
		return Help
	case "exit":
		return Exit
	case "tables":
		return ListTables
	case "stats":
		return ShowStats
	case "demo":
		return Demo
	default:
		return Unknown
	}
}

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := logging.FromEnv(zap.InfoLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // flushes buffer, if any

	aDB, err := minikv.OpenContext(ctx, dbFlag)
	if err != nil {
		logger.Sugar().With("db", dbFlag, "error", err).Fatal("could not open database")
	}
	logger.Sugar().With("db", aDB.Config().FilePath, "tables", len(aDB.Tables())).Info("opened database")

	wg := new(sync.WaitGroup)
	wg.Add(1)
	done := make(chan struct{})

	go func() {
		defer wg.Done()
		defer close(done)

		reader := bufio.NewScanner(os.Stdin)
		printPrompt()

		// REPL (Read-eval-print loop) start
		for reader.Scan() {
			if ctx.Err() != nil {
				break
			}

			inputBuffer := sanitizeReplInput(reader.Text())
			if isMetaCommand(inputBuffer) {
				switch doMetaCommand(inputBuffer[1:]) {
				case Help:
					printHelp(os.Stdout)
				case Exit:
					return
				case ListTables:
					for _, table := range aDB.Tables() {
						fmt.Println(table)
					}
				case ShowStats:
					if err := showStats(ctx, os.Stdout, aDB); err != nil {
						fmt.Printf("Error reading stats: %s\n", err)
					}
				case Demo:
					if err := runDemo(ctx, os.Stdout, aDB); err != nil {
						fmt.Printf("Error running demo: %s\n", err)
					}
				case Unknown:
					fmt.Printf("Unrecognized meta command: %s\n", inputBuffer)
				}
			} else if inputBuffer != "" {
				if err := execute(ctx, os.Stdout, aDB, inputBuffer); err != nil {
					fmt.Printf("Error executing command: %s\n", err)
				}
			}
			printPrompt()
		}
		// Print an additional line if we encountered an EOF character
		fmt.Println()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigChan:
		exitCode = 1
	case <-done:
	}

	cancel()

	if err := aDB.Close(context.Background()); err != nil {
		fmt.Printf("error closing database: %s\n", err)
		exitCode = 1
	}

	if exitCode != 0 {
		logger.Sync()
		os.Exit(exitCode)
	}
}
