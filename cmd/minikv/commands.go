package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/RichardKnop/minikv"
	"github.com/RichardKnop/minikv/internal/pkg/util"
)

const demoTable = "demo"

func printHelp(w io.Writer) {
	fmt.Fprintln(w, ".help                    - Show available commands")
	fmt.Fprintln(w, ".exit                    - Closes program")
	fmt.Fprintln(w, ".tables                  - List all tables in the current database")
	fmt.Fprintln(w, ".stats                   - Show buffer cache and block statistics")
	fmt.Fprintln(w, ".demo                    - Load the demo table and run a few queries on it")
	fmt.Fprintln(w, "create <table>           - Create a table")
	fmt.Fprintln(w, "drop <table>             - Drop a table and free its blocks")
	fmt.Fprintln(w, "insert <table> <k> <v>   - Store value v under integer key k")
	fmt.Fprintln(w, "get <table> <k>          - Print the value stored under k")
	fmt.Fprintln(w, "delete <table> <k>       - Remove key k")
	fmt.Fprintln(w, "range <table> <a> <b>    - Print every entry with a <= key <= b")
}

// execute runs one command line. Values may contain spaces, everything after
// the key is the value.
func execute(ctx context.Context, w io.Writer, aDB *minikv.DB, line string) error {
	fields := strings.Fields(line)
	command, args := strings.ToLower(fields[0]), fields[1:]

	switch command {
	case "create":
		if len(args) != 1 {
			return fmt.Errorf("usage: create <table>")
		}
		if err := aDB.CreateTable(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(w, "Created table %s\n", args[0])
	case "drop":
		if len(args) != 1 {
			return fmt.Errorf("usage: drop <table>")
		}
		if err := aDB.DropTable(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(w, "Dropped table %s\n", args[0])
	case "insert":
		if len(args) < 3 {
			return fmt.Errorf("usage: insert <table> <key> <value>")
		}
		key, err := parseKey(args[1])
		if err != nil {
			return err
		}
		if err := aDB.Insert(ctx, args[0], key, valueAfter(line, 3)); err != nil {
			return err
		}
		fmt.Fprintln(w, "OK")
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: get <table> <key>")
		}
		key, err := parseKey(args[1])
		if err != nil {
			return err
		}
		value, ok, err := aDB.Search(ctx, args[0], key)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(w, "(not found)")
			return nil
		}
		fmt.Fprintln(w, value)
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: delete <table> <key>")
		}
		key, err := parseKey(args[1])
		if err != nil {
			return err
		}
		deleted, err := aDB.Delete(ctx, args[0], key)
		if err != nil {
			return err
		}
		if deleted {
			fmt.Fprintln(w, "Keys deleted: 1")
		} else {
			fmt.Fprintln(w, "Keys deleted: 0")
		}
	case "range":
		if len(args) != 3 {
			return fmt.Errorf("usage: range <table> <start> <end>")
		}
		start, err := parseKey(args[1])
		if err != nil {
			return err
		}
		end, err := parseKey(args[2])
		if err != nil {
			return err
		}
		entries, err := aDB.RangeSearch(ctx, args[0], start, end)
		if err != nil {
			return err
		}
		printEntries(w, entries)
	default:
		return fmt.Errorf("unrecognized command %q, type .help for a list", fields[0])
	}

	return nil
}

func parseKey(s string) (int32, error) {
	key, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid key %q: must be a 32 bit integer", s)
	}
	return int32(key), nil
}

// valueAfter returns the rest of line after skipping n fields.
func valueAfter(line string, n int) string {
	rest := strings.TrimSpace(line)
	for range n {
		idx := strings.IndexFunc(rest, isSpace)
		if idx < 0 {
			return ""
		}
		rest = strings.TrimLeftFunc(rest[idx:], isSpace)
	}
	return rest
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t'
}

func printEntries(w io.Writer, entries []minikv.Entry) {
	util.PrintTableHeader(w, util.KeyValueColumns)
	for _, anEntry := range entries {
		util.PrintTableRow(w, util.KeyValueColumns, []any{anEntry.Key, anEntry.Value})
	}
	util.PrintTableEnd(w, util.KeyValueColumns)
	fmt.Fprintf(w, "Entries: %d\n", len(entries))
}

func printStats(w io.Writer, aStats minikv.Stats) {
	fmt.Fprintf(w, "tables:       %d\n", aStats.Tables)
	fmt.Fprintf(w, "next block:   %d\n", aStats.NextBlock)
	fmt.Fprintf(w, "free blocks:  %d\n", aStats.FreeBlocks)
	fmt.Fprintf(w, "log bytes:    %d\n", aStats.LogSize)
	fmt.Fprintf(w, "cache hits:   %d\n", aStats.Hits)
	fmt.Fprintf(w, "cache misses: %d\n", aStats.Misses)
	fmt.Fprintf(w, "evictions:    %d\n", aStats.Evictions)
	fmt.Fprintf(w, "write backs:  %d\n", aStats.WriteBacks)
	fmt.Fprintf(w, "resident:     %d\n", aStats.Resident)
	fmt.Fprintf(w, "dirty:        %d\n", aStats.Dirty)
}

// showStats prints engine counters followed by the shape of every table.
func showStats(ctx context.Context, w io.Writer, aDB *minikv.DB) error {
	printStats(w, aDB.Stats())

	infos, err := aDB.DescribeTables(ctx)
	if err != nil {
		return err
	}
	util.PrintTableHeader(w, util.TableInfoColumns)
	for _, anInfo := range infos {
		util.PrintTableRow(w, util.TableInfoColumns, []any{anInfo.Name, anInfo.RootID, anInfo.Height, anInfo.Entries})
	}
	util.PrintTableEnd(w, util.TableInfoColumns)
	return nil
}

// runDemo recreates the demo table with eight letters, then searches, scans
// and deletes from it.
func runDemo(ctx context.Context, w io.Writer, aDB *minikv.DB) error {
	if err := aDB.DropTable(ctx, demoTable); err != nil && !errors.Is(err, minikv.ErrTableNotFound) {
		return err
	}

	lines := []string{
		"create " + demoTable,
		"insert demo 10 A",
		"insert demo 20 B",
		"insert demo 5 C",
		"insert demo 6 D",
		"insert demo 12 E",
		"insert demo 30 F",
		"insert demo 7 G",
		"insert demo 17 H",
		"get demo 6",
		"get demo 99",
		"range demo 6 20",
		"delete demo 6",
		"delete demo 7",
		"delete demo 10",
		"delete demo 12",
		"range demo 5 30",
	}
	for _, line := range lines {
		fmt.Fprintf(w, "%s> %s\n", cliName, line)
		if err := execute(ctx, w, aDB, line); err != nil {
			return err
		}
	}

	return nil
}
