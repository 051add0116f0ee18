package luahost

import (
	"io"
	"os"
	"os/signal"
	"strconv"

	log "github.com/sirupsen/logrus"

	sp "github.com/seantiz/scribe/internal/backend/subprocess"
)

// Main runs an agent on the process's stdin and stdout, configured from the
// environment set by the subprocess backend, and returns the exit code.
func Main() int {
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	logger.SetOutput(io.Discard)
	if path := os.Getenv(sp.EnvErrorFile); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			// Stderr is shared with the host.
			logger.SetOutput(os.Stderr)
			logger.WithError(err).Warn("open error file")
		} else {
			defer f.Close()
			logger.SetOutput(f)
		}
	}

	var limit uint64
	if s := os.Getenv(sp.EnvMemoryLimit); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			logger.WithError(err).Warnf("invalid %s %q", sp.EnvMemoryLimit, s)
		}
		limit = n
	}

	var maxString int
	if s := os.Getenv(sp.EnvMaxString); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			logger.WithError(err).Warnf("invalid %s %q", sp.EnvMaxString, s)
		}
		maxString = n
	}

	agent := New(os.Stdin, os.Stdout, Options{MemoryLimit: limit, MaxStringLength: maxString, Log: logger})
	defer agent.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			logger.Warn("interrupted by host")
			agent.Interrupt()
		}
	}()

	logger.WithField("pid", os.Getpid()).Debug("luahost started")
	if err := agent.Serve(); err != nil {
		logger.WithError(err).Error("serve")
		return 1
	}
	return 0
}
