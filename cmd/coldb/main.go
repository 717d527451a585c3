// coldb is an interactive REPL for exercising the storage engine directly,
// without going through a SQL layer: insert, update, select and sum rows by
// primary key, one line-oriented command at a time.
//
// Usage:
//
//	coldb -dir ./mydb
//	coldb                (in-memory, discarded on exit)
//
// Commands (type .help for the full list):
//
//	create <table> <numColumns> <keyColumn>
//	insert <table> <v0> <v1> ...
//	select <table> <key>
//	select_version <table> <key> <version>
//	update <table> <key> <col>=<val> [<col>=<val> ...]
//	sum <table> <keyLow> <keyHigh> <col>
//	delete <table> <key>
//	.tables
//	.quit
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Felmond13/coldb/coldb"
	"github.com/Felmond13/coldb/storage"
)

func main() {
	dir := flag.String("dir", "", "database directory (empty = in-memory)")
	frames := flag.Int("frames", storage.DefaultConfig().NumFrames, "buffer pool frame count")
	basePages := flag.Int("base-pages", storage.DefaultConfig().BasePagesPerRange, "base pages per page range")
	mergeThreshold := flag.Int("merge-threshold", storage.DefaultConfig().MergeThreshold, "tail updates before a merge pass")
	verbose := flag.Bool("verbose", false, "enable structured debug logging")
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger = zap.NewNop()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "coldb: logger: %v\n", err)
		os.Exit(1)
	}

	cfg := storage.Config{
		CellsPerPage:      storage.DefaultConfig().CellsPerPage,
		BasePagesPerRange: *basePages,
		NumFrames:         *frames,
		MergeThreshold:    *mergeThreshold,
	}

	db, err := coldb.Open(*dir, coldb.Options{Config: cfg, Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "coldb: open: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("coldb — columnar multi-version table engine")
	if *dir == "" {
		fmt.Println("running in memory")
	} else {
		fmt.Printf("database: %s\n", *dir)
	}
	fmt.Println("type .help for commands, .quit to exit")

	runREPL(db)
}

func runREPL(db *coldb.Database) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("coldb> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ".") {
			if handleCommand(db, line) {
				return
			}
			continue
		}
		if err := dispatch(db, line); err != nil {
			fmt.Printf("  error: %v\n", err)
		}
	}
}

func handleCommand(db *coldb.Database, cmd string) bool {
	switch strings.Fields(cmd)[0] {
	case ".quit", ".exit":
		fmt.Println("bye")
		return true
	case ".help":
		printHelp()
	case ".tables":
		fmt.Println("  (table listing requires tracking names client-side; use create/select directly)")
	default:
		fmt.Printf("  unknown command: %s\n", cmd)
	}
	return false
}

func printHelp() {
	fmt.Println(`commands:
  create <table> <numColumns> <keyColumn>
  insert <table> <v0> <v1> ...
  select <table> <key>
  select_version <table> <key> <version>
  update <table> <key> <col>=<val> [<col>=<val> ...]
  sum <table> <keyLow> <keyHigh> <col>
  sum_version <table> <keyLow> <keyHigh> <col> <version>
  delete <table> <key>
  .help
  .quit`)
}

func dispatch(db *coldb.Database, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "create":
		return cmdCreate(db, args)
	case "insert":
		return cmdInsert(db, args)
	case "select":
		return cmdSelect(db, args)
	case "select_version":
		return cmdSelectVersion(db, args)
	case "update":
		return cmdUpdate(db, args)
	case "sum":
		return cmdSum(db, args)
	case "sum_version":
		return cmdSumVersion(db, args)
	case "delete":
		return cmdDelete(db, args)
	default:
		return fmt.Errorf("unknown command %q (try .help)", cmd)
	}
}

func cmdCreate(db *coldb.Database, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: create <table> <numColumns> <keyColumn>")
	}
	numColumns, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	keyColumn, err := strconv.Atoi(args[2])
	if err != nil {
		return err
	}
	if _, err := db.CreateTable(args[0], numColumns, keyColumn); err != nil {
		return err
	}
	fmt.Printf("  created table %q\n", args[0])
	return nil
}

func cmdInsert(db *coldb.Database, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: insert <table> <v0> <v1> ...")
	}
	values, err := parseInts(args[1:])
	if err != nil {
		return err
	}
	tx := db.NewTransaction()
	tx.AddInsert(args[0], values)
	result := db.SubmitAndWait(tx)
	if err := result.Results[0].Err; err != nil {
		return err
	}
	fmt.Printf("  inserted rid=%d\n", result.Results[0].RID)
	return nil
}

func cmdSelect(db *coldb.Database, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: select <table> <key>")
	}
	key, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return err
	}
	tx := db.NewTransaction()
	tx.AddSelect(args[0], key)
	result := db.SubmitAndWait(tx)
	if err := result.Results[0].Err; err != nil {
		return err
	}
	fmt.Printf("  %v\n", result.Results[0].Values)
	return nil
}

func cmdSelectVersion(db *coldb.Database, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: select_version <table> <key> <version>")
	}
	key, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return err
	}
	version, err := strconv.Atoi(args[2])
	if err != nil {
		return err
	}
	tx := db.NewTransaction()
	tx.AddSelectVersion(args[0], key, version)
	result := db.SubmitAndWait(tx)
	if err := result.Results[0].Err; err != nil {
		return err
	}
	fmt.Printf("  %v\n", result.Results[0].Values)
	return nil
}

func cmdUpdate(db *coldb.Database, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: update <table> <key> <col>=<val> [<col>=<val> ...]")
	}
	key, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return err
	}
	maxCol := -1
	updates := make(map[int]int64)
	for _, kv := range args[2:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("bad column assignment %q", kv)
		}
		col, err := strconv.Atoi(parts[0])
		if err != nil {
			return err
		}
		val, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return err
		}
		updates[col] = val
		if col > maxCol {
			maxCol = col
		}
	}
	numCols := maxCol + 1
	if t, ok := db.Table(args[0]); ok && t.NumColumns > numCols {
		numCols = t.NumColumns
	}
	values := make([]*int64, numCols)
	for col, val := range updates {
		v := val
		values[col] = &v
	}
	tx := db.NewTransaction()
	tx.AddUpdate(args[0], key, values)
	result := db.SubmitAndWait(tx)
	if err := result.Results[0].Err; err != nil {
		return err
	}
	fmt.Println("  updated")
	return nil
}

func cmdSum(db *coldb.Database, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: sum <table> <keyLow> <keyHigh> <col>")
	}
	low, high, col, err := parseRange(args)
	if err != nil {
		return err
	}
	tx := db.NewTransaction()
	tx.AddSum(args[0], low, high, col)
	result := db.SubmitAndWait(tx)
	if err := result.Results[0].Err; err != nil {
		return err
	}
	fmt.Printf("  %d\n", result.Results[0].Sum)
	return nil
}

func cmdSumVersion(db *coldb.Database, args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("usage: sum_version <table> <keyLow> <keyHigh> <col> <version>")
	}
	low, high, col, err := parseRange(args[:4])
	if err != nil {
		return err
	}
	version, err := strconv.Atoi(args[4])
	if err != nil {
		return err
	}
	tx := db.NewTransaction()
	tx.AddSumVersion(args[0], low, high, col, version)
	result := db.SubmitAndWait(tx)
	if err := result.Results[0].Err; err != nil {
		return err
	}
	fmt.Printf("  %d\n", result.Results[0].Sum)
	return nil
}

func cmdDelete(db *coldb.Database, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: delete <table> <key>")
	}
	key, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return err
	}
	tx := db.NewTransaction()
	tx.AddDelete(args[0], key)
	result := db.SubmitAndWait(tx)
	if err := result.Results[0].Err; err != nil {
		return err
	}
	fmt.Println("  deleted")
	return nil
}

func parseInts(args []string) ([]int64, error) {
	out := make([]int64, len(args))
	for i, a := range args {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseRange(args []string) (low, high int64, col int, err error) {
	low, err = strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return
	}
	high, err = strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return
	}
	col, err = strconv.Atoi(args[3])
	return
}
