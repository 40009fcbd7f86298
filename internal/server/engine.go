package server

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kazandb/kazandb/internal/config"
	"github.com/kazandb/kazandb/internal/resp"
	"github.com/kazandb/kazandb/internal/storage"
)

// gcMaxRounds bounds how many back-to-back sampling rounds one tick may run
// when the sampled keys keep turning out expired
const gcMaxRounds = 16

// Engine coordinates the execution of commands and manages the background tasks of the repository
type Engine struct {
	commands map[string]command // Registry of available commands (the key is the command name in uppercase)
	storage  storage.Storage    // Interface to the underlying KV storage
	cfg      config.GCConfig
	stopGC   chan struct{}  // Channel for the background GC stop signal
	gcDone   sync.WaitGroup // Tracks the GC goroutine
	stopOnce sync.Once      // Ensures that the stop happens only once
	logger   *zap.Logger
}

// NewEngine initializes the engine, registers the basic commands, and
// if enabled in the config, starts background cleanup of outdated keys
func NewEngine(s storage.Storage, cfg *config.Config, logger *zap.Logger) *Engine {
	engine := &Engine{
		commands: make(map[string]command),
		storage:  s,
		cfg:      cfg.GC,
		stopGC:   make(chan struct{}),
		logger:   logger,
	}
	engine.registerBasicCommand()

	if cfg.GC.Enabled && cfg.GC.Interval > 0 {
		engine.gcDone.Go(engine.startGCLoop)
	}

	return engine
}

// startGCLoop triggers the active expiration mechanism
func (e *Engine) startGCLoop() {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.collect()
		case <-e.stopGC:
			return
		}
	}
}

// collect samples keys with a TTL and repeats while the share of expired keys stays above the threshold
func (e *Engine) collect() {
	for range gcMaxRounds {
		ratio := e.storage.DeleteExpired(e.cfg.SamplesPerCheck)

		if ratio > 0 && e.logger.Core().Enabled(zap.DebugLevel) {
			e.logger.Debug("GC delete expired", zap.Float64("expired_ratio", ratio))
		}

		if ratio <= e.cfg.MatchThreshold {
			return
		}

		select {
		case <-e.stopGC:
			return
		default:
		}
	}
}

// register adds a new command to the engine. The command name is uppercase
func (e *Engine) register(name string, cmd command) {
	e.commands[strings.ToUpper(name)] = cmd
}

// registerBasicCommand fills the registry with standard commands
func (e *Engine) registerBasicCommand() {
	e.register("PING", commandFunc(ping))
	e.register("ECHO", commandFunc(echo))
	e.register("GET", commandFunc(get))
	e.register("SET", commandFunc(set))
	e.register("SETNX", commandFunc(setnx))
	e.register("DEL", commandFunc(del))
	e.register("EXISTS", commandFunc(exists))
	e.register("TTL", commandFunc(ttl))
	e.register("PTTL", commandFunc(pttl))
	e.register("PERSIST", commandFunc(persist))
	e.register("DBSIZE", commandFunc(dbsize))
	e.register("COMMAND", commandFunc(cmd))
}

// Known reports whether name is a registered command
func (e *Engine) Known(name string) bool {
	_, ok := e.commands[strings.ToUpper(name)]
	return ok
}

// Execute finds the command by name and executes it with the passed arguments.
// Unknown commands and wrong argument counts are answered with a RESP error
func (e *Engine) Execute(name string, args []resp.Value) resp.Value {
	if e.logger.Core().Enabled(zap.DebugLevel) {
		// Log the command name and number of args
		e.logger.Debug("executing command",
			zap.String("cmd", name),
			zap.Int("args_count", len(args)),
		)
	}

	upper := strings.ToUpper(name)

	cmd, ok := e.commands[upper]
	if !ok {
		return resp.MakeErrorf("ERR unknown command '%s'", name)
	}

	if meta, ok := commandRegistry[upper]; ok && !meta.validArity(len(args)+1) {
		return resp.MakeErrorWrongNumberOfArguments(strings.ToLower(name))
	}

	ctx := &commandContext{
		args:    args,
		storage: e.storage,
	}

	return cmd.execute(ctx)
}

// Shutdown stops the background services. It is safe to call more than once
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		close(e.stopGC)
		e.gcDone.Wait()
		e.logger.Info("GC background process stopped")
	})
}
