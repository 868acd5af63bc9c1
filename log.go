package tapcov

import (
	"github.com/btcsuite/btclog"
	"github.com/lightninglabs/tapcov/covdb"
	"github.com/lightninglabs/tapcov/covfreighter"
	"github.com/lightninglabs/tapcov/covscript"
	"github.com/lightninglabs/tapcov/covsend"
	"github.com/lightninglabs/tapcov/ledger"
	"github.com/lightninglabs/tapcov/tapscript"
	"github.com/lightninglabs/tapcov/vm"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
)

// Subsystem defines the logging code for the root package.
const Subsystem = "TCOV"

// replaceableLogger is a thin wrapper around a logger that is used so the
// logger can be replaced easily without some black pointer magic.
type replaceableLogger struct {
	btclog.Logger
	subsystem string
}

// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling InitLogRotator() on the main log writer instance in the config.
var (
	// covPkgLoggers is a list of all root package level loggers that are
	// registered. They are tracked here so they can be replaced once the
	// SetupLoggers function is called with the final root logger.
	covPkgLoggers []*replaceableLogger

	// addCovPkgLogger is a helper function that creates a new replaceable
	// root package level logger and adds it to the list of loggers that
	// are replaced again later, once the final root logger is ready.
	addCovPkgLogger = func(subsystem string) *replaceableLogger {
		l := &replaceableLogger{
			Logger:    build.NewSubLogger(subsystem, nil),
			subsystem: subsystem,
		}
		covPkgLoggers = append(covPkgLoggers, l)
		return l
	}

	// log is the logger of the lineage orchestration.
	log = addCovPkgLogger(Subsystem)
)

// genSubLogger creates a logger for a subsystem. We provide an instance of a
// signal.Interceptor to be able to shutdown in the case of a critical error.
func genSubLogger(root *build.RotatingLogWriter,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	// Create a shutdown function which will request shutdown from our
	// interceptor if it is listening.
	shutdown := func() {
		if !interceptor.Listening() {
			return
		}

		interceptor.RequestShutdown()
	}

	// Return a function which will create a sublogger from our root logger
	// without shutdown fn.
	return func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, shutdown)
	}
}

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.RotatingLogWriter,
	interceptor signal.Interceptor) {

	genLogger := genSubLogger(root, interceptor)

	// Now that we have the proper root logger, we can replace the
	// placeholder root package loggers.
	for _, l := range covPkgLoggers {
		l.Logger = build.NewSubLogger(l.subsystem, genLogger)
		SetSubLogger(root, l.subsystem, l.Logger)
	}

	// The interceptor logs through the root package logger.
	signal.UseLogger(log)

	AddSubLogger(root, covscript.Subsystem, interceptor, covscript.UseLogger)
	AddSubLogger(root, tapscript.Subsystem, interceptor, tapscript.UseLogger)
	AddSubLogger(root, vm.Subsystem, interceptor, vm.UseLogger)
	AddSubLogger(root, ledger.Subsystem, interceptor, ledger.UseLogger)
	AddSubLogger(root, covsend.Subsystem, interceptor, covsend.UseLogger)
	AddSubLogger(
		root, covfreighter.Subsystem, interceptor,
		covfreighter.UseLogger,
	)
	AddSubLogger(root, covdb.Subsystem, interceptor, covdb.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.RotatingLogWriter, subsystem string,
	interceptor signal.Interceptor, useLoggers ...func(btclog.Logger)) {

	// genSubLogger will return a callback for creating a logger instance,
	// which we will give to the root logger.
	genLogger := genSubLogger(root, interceptor)

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, genLogger)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a sub
// system.
func SetSubLogger(root *build.RotatingLogWriter, subsystem string,
	logger btclog.Logger, useLoggers ...func(btclog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
