// Command relayadmin is an interactive inspector over a relay's
// storage.Store: it can report an owner's message count, range
// fingerprint, and take a live snapshot of the database file. It
// never decrypts anything — consistent with spec §4.C, a relay (and
// its tooling) only ever sees ciphertext.
//
// Grounded on calvinalkan-agent-task/cmd/sloty's peterh/liner REPL
// loop: NewLiner, SetCtrlCAborts, a history file, and a
// Prompt/AppendHistory/dispatch loop driving named subcommands.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/peterh/liner"

	"github.com/evolu-go/sync/krange"
	"github.com/evolu-go/sync/owner"
	"github.com/evolu-go/sync/storage"
)

type optsStruct struct {
	DB string `short:"d" long:"db" description:"Path to the relay's SQLite database file" default:"Evolu.sqlite"`
}

var opts optsStruct
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	ctx := context.Background()
	store, err := storage.Open(ctx, opts.DB)
	if err != nil {
		fmt.Fprintln(os.Stderr, "relayadmin:", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := repl(ctx, store); err != nil && err != io.EOF {
		fmt.Fprintln(os.Stderr, "relayadmin:", err)
		os.Exit(1)
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".relayadmin_history")
}

func repl(ctx context.Context, store *storage.Store) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := historyPath()
	if histPath != "" {
		if f, err := os.Open(histPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	for {
		input, err := line.Prompt("relayadmin> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if histPath != "" {
			if f, err := os.Create(histPath); err == nil {
				line.WriteHistory(f)
				f.Close()
			}
		}
		if quit := dispatch(ctx, store, input); quit {
			return nil
		}
	}
}

func dispatch(ctx context.Context, store *storage.Store, input string) (quit bool) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "quit", "exit":
		return true
	case "help":
		printHelp()
	case "size":
		cmdSize(ctx, store, fields[1:])
	case "fingerprint":
		cmdFingerprint(ctx, store, fields[1:])
	case "snapshot":
		cmdSnapshot(ctx, fields[1:])
	case "rotate-key":
		cmdRotateKey(ctx, store, fields[1:])
	default:
		fmt.Println("unknown command, try 'help'")
	}
	return false
}

func printHelp() {
	fmt.Println(`commands:
  size <ownerIdHex>                             number of messages stored for the owner
  fingerprint <ownerIdHex>                       12-byte XOR fingerprint over the owner's full range
  snapshot <srcPath> <dstPath>                   atomically copy the database file
  rotate-key <ownerIdHex> <currentHex> <nextHex> replace an owner's write key, authorized by the current one
  quit                                           exit`)
}

func parseWriteKey(hexStr string) (owner.WriteKey, error) {
	var wk owner.WriteKey
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return wk, fmt.Errorf("invalid hex write key: %w", err)
	}
	if len(b) != owner.WriteKeySize {
		return wk, fmt.Errorf("write key must be %d bytes, got %d", owner.WriteKeySize, len(b))
	}
	copy(wk[:], b)
	return wk, nil
}

func parseOwnerID(hexStr string) (owner.ID, error) {
	var id owner.ID
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return id, fmt.Errorf("invalid hex owner id: %w", err)
	}
	if len(b) != owner.IDSize {
		return id, fmt.Errorf("owner id must be %d bytes, got %d", owner.IDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func cmdSize(ctx context.Context, store *storage.Store, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: size <ownerIdHex>")
		return
	}
	id, err := parseOwnerID(args[0])
	if err != nil {
		fmt.Println(err)
		return
	}
	n, err := store.GetSize(ctx, id, krange.Full())
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(n)
}

func cmdFingerprint(ctx context.Context, store *storage.Store, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: fingerprint <ownerIdHex>")
		return
	}
	id, err := parseOwnerID(args[0])
	if err != nil {
		fmt.Println(err)
		return
	}
	fp, err := store.Fingerprint(ctx, id, krange.Full())
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(hex.EncodeToString(fp[:]))
}

func cmdSnapshot(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: snapshot <srcPath> <dstPath>")
		return
	}
	if err := storage.Snapshot(ctx, args[0], args[1]); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func cmdRotateKey(ctx context.Context, store *storage.Store, args []string) {
	if len(args) != 3 {
		fmt.Println("usage: rotate-key <ownerIdHex> <currentHex> <nextHex>")
		return
	}
	id, err := parseOwnerID(args[0])
	if err != nil {
		fmt.Println(err)
		return
	}
	current, err := parseWriteKey(args[1])
	if err != nil {
		fmt.Println(err)
		return
	}
	next, err := parseWriteKey(args[2])
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := store.RotateWriteKey(ctx, id, current, next); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}
