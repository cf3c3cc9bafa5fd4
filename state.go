package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Martian-Engineering/lcm-compress/compress"
)

var errNoSessionState = errors.New("no saved edits for session")

// appEnv is everything a command needs after startup: configuration, the log
// sink and the persister backed by the state database.
type appEnv struct {
	cfg       appConfig
	logger    *slog.Logger
	persister *compress.Persister
	closers   []io.Closer
}

func openAppEnv() (*appEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openAppEnvWithConfig(cfg)
}

func openAppEnvWithConfig(cfg appConfig) (*appEnv, error) {
	env := &appEnv{cfg: cfg}

	logger, logFile, err := newFileLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	env.logger = logger
	if logFile != nil {
		env.closers = append(env.closers, logFile)
	}

	// A missing or broken state database degrades to in-memory state.
	var store compress.Storage
	if db, err := openStateDB(cfg.StateDB); err != nil {
		logger.Warn("open state db", "path", cfg.StateDB, "error", err)
	} else if kv, err := newSQLiteKV(db); err != nil {
		logger.Warn("prepare state db", "path", cfg.StateDB, "error", err)
		db.Close()
	} else {
		store = kv
		env.closers = append(env.closers, kv)
	}
	env.persister = compress.NewPersister(store, compress.WithLogger(logger))
	return env, nil
}

func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i].Close()
	}
	e.closers = nil
}

func (e *appEnv) editorOptions() []compress.Option {
	return []compress.Option{
		compress.WithLogger(e.logger),
		compress.WithPersister(e.persister),
	}
}

// newFileLogger opens a text log at path. The TUI owns the terminal, so logs
// never go to stderr; an empty path discards them.
func newFileLogger(path, level string) (*slog.Logger, *os.File, error) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if strings.TrimSpace(path) == "" {
		return slog.New(slog.NewTextHandler(io.Discard, opts)), nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir for %q: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return slog.New(slog.NewTextHandler(file, opts)), file, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type stateOptions struct {
	show  bool
	clear bool
}

// runStateCommand inspects or clears the persisted edit slot.
func runStateCommand(args []string) error {
	opts, err := parseStateArgs(args)
	if err != nil {
		return err
	}
	env, err := openAppEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	return runState(os.Stdout, env.persister, opts)
}

func runState(w io.Writer, persister *compress.Persister, opts stateOptions) error {
	owner, ok := persister.StoredSessionID()
	if opts.clear {
		persister.ClearState()
		if ok {
			fmt.Fprintf(w, "Cleared saved edits for session %s.\n", owner)
		} else {
			fmt.Fprintln(w, "No saved edits to clear.")
		}
		return nil
	}

	if !ok {
		fmt.Fprintln(w, "No saved edits.")
		return nil
	}
	snapshot, found := persister.LoadState(owner)
	if !found {
		fmt.Fprintln(w, "No saved edits.")
		return nil
	}
	fmt.Fprintf(w, "Session: %s\n", owner)
	fmt.Fprintf(w, "Deleted: %d  Modified: %d  Inserted: %d\n",
		snapshot.OperationCount(compress.KindDelete),
		snapshot.OperationCount(compress.KindModify),
		snapshot.OperationCount(compress.KindInsert))
	if persister.Degraded() {
		fmt.Fprintln(w, "Warning: state database unavailable; showing in-memory state only.")
	}
	return nil
}

func parseStateArgs(args []string) (stateOptions, error) {
	fs := flag.NewFlagSet("state", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	show := fs.Bool("show", false, "show which session owns the saved edits")
	clearFlag := fs.Bool("clear", false, "discard saved edits")
	if err := fs.Parse(args); err != nil {
		return stateOptions{}, fmt.Errorf("%w\n%s", err, stateUsageText())
	}
	if fs.NArg() != 0 {
		return stateOptions{}, fmt.Errorf("unexpected arguments: %s\n%s", strings.Join(fs.Args(), " "), stateUsageText())
	}
	if *show && *clearFlag {
		return stateOptions{}, fmt.Errorf("choose one of --show or --clear")
	}
	return stateOptions{show: *show || !*clearFlag, clear: *clearFlag}, nil
}

func stateUsageText() string {
	return strings.TrimSpace(`Usage:
  lcm-compress state [--show]
  lcm-compress state --clear

Flags:
  --show   show which session owns the saved edits (default)
  --clear  discard saved edits
`)
}

// openSessionEditor loads a session and restores any persisted edits for it.
func openSessionEditor(env *appEnv, agent, session string) (sessionTranscript, *compress.Editor, bool, error) {
	path, err := resolveSessionPath(env.cfg.AgentsDir, agent, session)
	if err != nil {
		return sessionTranscript{}, nil, false, err
	}
	transcript, err := loadSessionTranscript(path)
	if err != nil {
		return sessionTranscript{}, nil, false, err
	}
	editor := compress.NewEditor(transcript.sessionID, transcript.messages, env.editorOptions()...)
	return transcript, editor, editor.Restore(), nil
}

// loadSessionEdits is openSessionEditor for commands that need saved edits.
func loadSessionEdits(env *appEnv, agent, session string) (sessionTranscript, *compress.Editor, error) {
	transcript, editor, restored, err := openSessionEditor(env, agent, session)
	if err != nil {
		return sessionTranscript{}, nil, err
	}
	if !restored {
		return sessionTranscript{}, nil, fmt.Errorf("%w %q", errNoSessionState, transcript.sessionID)
	}
	return transcript, editor, nil
}
