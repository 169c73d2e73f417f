// Package log provides the leveled logging interface the graph engine
// reports through.
//
// The executor logs super-step scheduling and checkpoint writes at debug
// level. A compiled graph defaults to NoOpLogger, so execution is silent
// unless a logger is attached at compile time:
//
//	logger := log.NewDefaultLogger(log.LogLevelDebug)
//	runnable, err := g.Compile(graph.WithLogger(logger))
//
// # Levels
//
// Five levels, in increasing severity: LogLevelDebug, LogLevelInfo,
// LogLevelWarn, LogLevelError, and LogLevelNone, which disables output
// entirely. Messages below a logger's level are dropped before formatting.
//
// # Implementations
//
// DefaultLogger writes through the standard library's log package.
// NewDefaultLogger writes to stderr; NewCustomLogger takes any io.Writer,
// including an io.MultiWriter fanning out to console and file:
//
//	f, err := os.OpenFile("run.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
//	if err != nil {
//		return err
//	}
//	defer f.Close()
//	logger := log.NewCustomLogger(io.MultiWriter(os.Stderr, f), log.LogLevelInfo)
//
// GologLogger wraps a github.com/kataras/golog instance, so an application
// that already configures golog can route engine output through it:
//
//	glogger := golog.New()
//	glogger.SetPrefix("[orders] ")
//	runnable, err := g.Compile(graph.WithLogger(log.NewGologLogger(glogger)))
//
// NoOpLogger discards everything and needs no construction.
//
// Custom sinks implement the four-method Logger interface directly; the
// engine never assumes anything beyond printf-style formatting.
//
// # Package-level logger
//
// SetDefaultLogger, Debug, Info, Warn and Error operate on a process-wide
// logger for code that has no compiled graph at hand. Per-graph loggers
// passed to graph.WithLogger are independent of it.
package log
