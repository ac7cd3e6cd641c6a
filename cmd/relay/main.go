// Command relay runs the untrusted message relay described in spec
// §6: a single HTTP endpoint that upgrades to a transport connection
// and speaks package protocol's RoleRelay side against a shared
// storage.Store, never decrypting anything it stores.
//
// Grounded on brimstore-valuesstore/main.go's go-flags-based CLI
// shape (flags.NewParser(&opts, flags.Default) over a positional-args
// struct); the benchmark-harness body that teacher builds around it
// is replaced with a long-running HTTP server, the actual shape of
// this module's "server" component.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/evolu-go/sync/config"
	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/owner"
	"github.com/evolu-go/sync/protocol"
	"github.com/evolu-go/sync/reconcile"
	"github.com/evolu-go/sync/rlog"
	"github.com/evolu-go/sync/storage"
	"github.com/evolu-go/sync/transport"
)

type optsStruct struct {
	Config string `short:"c" long:"config" description:"Path to a hujson relay config file" default:"relay.json"`
	Listen string `short:"l" long:"listen" description:"HTTP listen address" default:":4747"`
	Path   string `long:"path" description:"HTTP path the sync endpoint is served on" default:"/sync"`
	Debug  bool   `long:"debug" description:"Use a human-readable development logger instead of JSON"`
}

var opts optsStruct
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	log := rlog.New(rlog.LevelInfo)
	if opts.Debug {
		log = rlog.Dev()
	}
	defer log.Sync()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatal("loading config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, config.DatabasePath(cfg))
	if err != nil {
		log.Fatal("opening storage", zap.Error(err))
	}
	defer store.Close()

	r := &relay{store: store, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc(opts.Path, r.handleSync)

	srv := &http.Server{Addr: opts.Listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Default().MaxDrift)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("relay listening", zap.String("addr", opts.Listen), zap.String("path", opts.Path))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("serving", zap.Error(err))
	}
}

// relay holds the shared storage handle the sync endpoint dispatches
// against; one relay serves every owner (spec §6's "a single path
// accepts the transport upgrade").
type relay struct {
	store *storage.Store
	log   *zap.Logger
}

// handleSync implements spec §6's "On each frame: decode, validate
// version byte = 0x01, dispatch by kind, encode response, pad, send",
// looping until the connection fails or a frame cannot be handled. A
// session that reaches CLOSED or ERRORED is dropped, and the next
// Initiator frame on the same connection opens a fresh one.
func (r *relay) handleSync(w http.ResponseWriter, req *http.Request) {
	conn, err := transport.Upgrade(w, req)
	if err != nil {
		r.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := req.Context()
	var sess *protocol.Session
	var currentOwner owner.ID

	for {
		payload, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		frame, err := protocol.Decode(payload)
		if err != nil {
			r.log.Warn("decode failed", zap.Error(err))
			return
		}
		initFrame, ok := frame.(protocol.InitiatorFrame)
		if !ok {
			r.log.Warn("unexpected frame kind from client")
			return
		}
		if sess == nil || initFrame.OwnerID != currentOwner {
			currentOwner = initFrame.OwnerID
			clock := hlc.NewClock(relayNodeID(currentOwner), nil, 0)
			src := reconcile.StorageSource{Store: r.store, Owner: currentOwner}
			sess = protocol.NewSession(protocol.RoleRelay, currentOwner, clock, src, reconcile.DefaultPolicy())
		}
		reply, err := sess.HandleInitiator(ctx, initFrame, r.store.ValidateWriteKey, r.applyFor(currentOwner))
		if err != nil {
			r.log.Error("session round failed", zap.Error(err))
			return
		}
		out, err := protocol.Encode(reply)
		if err != nil {
			r.log.Error("encode reply", zap.Error(err))
			return
		}
		if err := conn.Send(ctx, out); err != nil {
			return
		}
		if sess.State() == protocol.StateClosed || sess.State() == protocol.StateErrored {
			sess = nil
		}
	}
}

func (r *relay) applyFor(id owner.ID) protocol.Apply {
	return func(ctx context.Context, msgs []reconcile.Message) error {
		enc := make([]storage.Encoded, len(msgs))
		for i, m := range msgs {
			enc[i] = storage.Encoded{Timestamp: m.Timestamp, Ciphertext: m.Ciphertext}
		}
		return r.store.WriteMessages(ctx, id, enc)
	}
}

// relayNodeID derives a stable HLC node identifier for the relay's
// side of a session from the first 6 bytes of the owner ID. The
// relay-side Session only merges received timestamps into its clock
// (Receive); it never calls Send.
func relayNodeID(id owner.ID) uint64 {
	var n uint64
	for i := 0; i < 6 && i < len(id); i++ {
		n = n<<8 | uint64(id[i])
	}
	return n
}
