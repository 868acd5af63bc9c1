package covcfg

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog"
	"github.com/jessevdk/go-flags"
	"github.com/lightninglabs/tapcov"
	"github.com/lightninglabs/tapcov/address"
	"github.com/lightninglabs/tapcov/covdb"
	"github.com/lightninglabs/tapcov/covfreighter"
	"github.com/lightninglabs/tapcov/ledger"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
	"golang.org/x/term"
)

const (
	defaultDataDirname     = "data"
	defaultLogLevel        = "info"
	defaultLogDirname      = "logs"
	defaultLogFilename     = "tapcov.log"
	defaultConfigFileName  = "tapcov.conf"
	defaultSqliteFileName  = "tapcov.db"
	defaultMaxLogFiles     = 3
	defaultMaxLogFileSize  = 10
	defaultLedgerHost      = "localhost:18884"
	defaultNetwork         = "liquidregtest"
	defaultIssuanceAmount  = 1000
	defaultFee             = 400
	defaultOfferAmount     = 5000
	defaultCounterpartyAmt = 500
)

var (
	// DefaultTapcovDir is the default directory where tapcov tries to find
	// its configuration file and store its data. This is a directory in
	// the user's application data, for example:
	//   C:\Users\<username>\AppData\Local\Tapcov on Windows
	//   ~/.tapcov on Linux
	//   ~/Library/Application Support/Tapcov on MacOS
	DefaultTapcovDir = btcutil.AppDataDir("tapcov", false)

	// DefaultConfigFile is the default full path of tapcov's
	// configuration file.
	DefaultConfigFile = filepath.Join(DefaultTapcovDir, defaultConfigFileName)

	defaultDataDir = filepath.Join(DefaultTapcovDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultTapcovDir, defaultLogDirname)

	// defaultSqliteDatabasePath is the default path under which we store
	// the SQLite database file.
	defaultSqliteDatabasePath = filepath.Join(
		defaultDataDir, defaultNetwork, defaultSqliteFileName,
	)

	// ReadPassword reads the ledger RPC password from the terminal. It is
	// a variable so tests can replace the prompt.
	ReadPassword = func() ([]byte, error) {
		fmt.Print("Enter ledger RPC password: ")
		pw, err := term.ReadPassword(int(syscall.Stdin)) // nolint:unconvert
		fmt.Println()
		return pw, err
	}
)

// LedgerConfig houses the options of the connection to the ledger node.
type LedgerConfig struct {
	Host       string `long:"host" description:"host:port of the ledger node RPC, optionally followed by a wallet path"`
	User       string `long:"user" description:"ledger node RPC user"`
	Pass       string `long:"pass" description:"ledger node RPC password, prompted for if a user is set but no password"`
	DisableTLS bool   `long:"notls" description:"Connect over plain HTTP"`

	ConfBlocks uint32 `long:"confblocks" description:"Number of blocks to mine after broadcasting on regtest"`
}

// KeysConfig holds the private keys of the covenant parties as WIF
// strings.
type KeysConfig struct {
	Internal     string `long:"internal" description:"WIF of the covenant internal key, which can release the covenant through the key path"`
	Counterparty string `long:"counterparty" description:"WIF of the key paying spend fees from a P2WPKH output"`
	Signer       string `long:"signer" description:"WIF of the key of a signer check prefix"`
}

// AmountsConfig holds the amounts used by covenant operations, all in base
// units.
type AmountsConfig struct {
	Issuance     uint64 `long:"issuance" description:"Amount of a new asset to issue and lock in a covenant"`
	Fee          uint64 `long:"fee" description:"Fee of every covenant spend, in the policy asset"`
	Offer        uint64 `long:"offer" description:"Amount of the policy asset offered by a counterparty"`
	Counterparty uint64 `long:"counterparty" description:"Amount of the policy asset funding a counterparty fee input"`
}

// Config is the main config of tapcov.
type Config struct {
	ShowVersion bool `long:"version" description:"Display version information and exit"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	TapcovDir  string `long:"tapcovdir" description:"The base directory that contains tapcov's data, logs, configuration file, etc."`
	ConfigFile string `long:"configfile" description:"Path to configuration file"`

	DataDir        string `long:"datadir" description:"The directory to store tapcov's data within"`
	LogDir         string `long:"logdir" description:"Directory to log output."`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	Network string `long:"network" description:"network to run on" choice:"liquidv1" choice:"liquidtestnet" choice:"liquidregtest"`

	Ledger  *LedgerConfig  `group:"ledger" namespace:"ledger"`
	Keys    *KeysConfig    `group:"keys" namespace:"keys"`
	Amounts *AmountsConfig `group:"amounts" namespace:"amounts"`

	DatabaseFileName string `long:"dbfile" description:"Path of the covenant journal database"`

	// LogWriter is the root logger that all of the subloggers are hooked
	// up to.
	LogWriter *build.RotatingLogWriter

	// ActiveNetParams contains parameters of the target chain.
	ActiveNetParams *address.ChainParams

	// networkDir is the path to the directory of the currently active
	// network.
	networkDir string
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		TapcovDir:      DefaultTapcovDir,
		ConfigFile:     DefaultConfigFile,
		DataDir:        defaultDataDir,
		DebugLevel:     defaultLogLevel,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		Network:        defaultNetwork,
		Ledger: &LedgerConfig{
			Host:       defaultLedgerHost,
			DisableTLS: true,
			ConfBlocks: covfreighter.DefaultConfBlocks,
		},
		Keys: &KeysConfig{},
		Amounts: &AmountsConfig{
			Issuance:     defaultIssuanceAmount,
			Fee:          defaultFee,
			Offer:        defaultOfferAmount,
			Counterparty: defaultCounterpartyAmt,
		},
		DatabaseFileName: defaultSqliteDatabasePath,
		LogWriter:        build.NewRotatingLogWriter(),
	}
}

// LoadConfig initializes and parses the config using a config file and the
// passed command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(args []string,
	interceptor signal.Interceptor) (*Config, btclog.Logger, error) {

	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.NewParser(&preCfg, flags.Default).ParseArgs(
		args,
	); err != nil {
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Println("tapcov version", tapcov.Version())
		os.Exit(0)
	}

	// If the user only changed the tapcov directory, the config file is
	// expected in it but doesn't have to exist. An explicit config file
	// must exist.
	configFileDir := CleanAndExpandPath(preCfg.TapcovDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	switch {
	case configFileDir != DefaultTapcovDir &&
		configFilePath == DefaultConfigFile:

		configFilePath = filepath.Join(
			configFileDir, defaultConfigFileName,
		)

	case configFilePath != DefaultConfigFile:
		if !fileExists(configFilePath) {
			return nil, nil, fmt.Errorf("specified config file "+
				"does not exist in %s", configFilePath)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	fileParser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(fileParser).ParseFile(configFilePath)
	if err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		if _, ok := err.(*flags.IniError); ok {
			return nil, nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	flagParser := flags.NewParser(&cfg, flags.Default)
	if _, err := flagParser.ParseArgs(args); err != nil {
		return nil, nil, err
	}

	cleanCfg, cfgLogger, err := ValidateConfig(cfg, interceptor)
	if err != nil {
		// The logging system might not yet be initialized, so we also
		// write to stderr to make sure the error appears somewhere.
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		if cfgLogger != nil {
			cfgLogger.Warnf("Error validating config: %v", err)
		}
		return nil, nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done.
	if configFileError != nil {
		cfgLogger.Debugf("%v", configFileError)
	}

	return cleanCfg, cfgLogger, nil
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config, interceptor signal.Interceptor) (*Config,
	btclog.Logger, error) {

	// If the provided tapcov directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	tapcovDir := CleanAndExpandPath(cfg.TapcovDir)
	if tapcovDir != DefaultTapcovDir {
		cfg.DataDir = filepath.Join(tapcovDir, defaultDataDirname)
		cfg.LogDir = filepath.Join(tapcovDir, defaultLogDirname)
	}

	mkErr := func(format string, args ...interface{}) error {
		return fmt.Errorf("ValidateConfig: "+format, args...)
	}

	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	params, err := address.Net(cfg.Network)
	if err != nil {
		return nil, nil, mkErr("%v", err)
	}
	cfg.ActiveNetParams = params

	if cfg.Amounts.Fee == 0 {
		return nil, nil, mkErr("fee must be positive")
	}
	if cfg.Amounts.Issuance == 0 {
		return nil, nil, mkErr("issuance amount must be positive")
	}

	// We'll now construct the network directory which will be where we
	// store all the data specific to this chain/network.
	cfg.networkDir = filepath.Join(cfg.DataDir, params.Name)

	// We'll also update the database file location as well, if it wasn't
	// set.
	if cfg.DatabaseFileName == defaultSqliteDatabasePath {
		cfg.DatabaseFileName = filepath.Join(
			cfg.networkDir, defaultSqliteFileName,
		)
	}
	cfg.DatabaseFileName = CleanAndExpandPath(cfg.DatabaseFileName)

	dirs := []string{
		cfg.DataDir, cfg.networkDir, filepath.Dir(cfg.DatabaseFileName),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, nil, mkErr("failed to create directory "+
				"'%s': %v", dir, err)
		}
	}

	// Append the network type to the log directory so it is "namespaced"
	// per network in the same fashion as the data directory.
	cfg.LogDir = filepath.Join(cfg.LogDir, params.Name)

	// A log writer must be passed in, otherwise we can't function and would
	// run into a panic later on.
	if cfg.LogWriter == nil {
		return nil, nil, mkErr("log writer missing in config")
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			cfg.LogWriter.SupportedSubsystems())
		os.Exit(0)
	}

	// Initialize logging at the default logging level.
	tapcov.SetupLoggers(cfg.LogWriter, interceptor)
	err = cfg.LogWriter.InitLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		cfg.MaxLogFileSize, cfg.MaxLogFiles,
	)
	if err != nil {
		return nil, nil, mkErr("log rotation setup failed: %v", err)
	}

	cfgLogger := cfg.LogWriter.GenSubLogger("CONF", nil)

	// Parse, validate, and set debug log level(s).
	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, cfg.LogWriter)
	if err != nil {
		return nil, cfgLogger, mkErr("error parsing debug level: %v",
			err)
	}

	return &cfg, cfgLogger, nil
}

// RPCConfig returns the connection parameters of the ledger node. If a user
// but no password is configured, the password is read from the terminal.
func (l *LedgerConfig) RPCConfig() (*ledger.RPCConfig, error) {
	pass := l.Pass
	if l.User != "" && pass == "" {
		pw, err := ReadPassword()
		if err != nil {
			return nil, fmt.Errorf("unable to read password: %w",
				err)
		}
		pass = string(pw)
	}

	return &ledger.RPCConfig{
		Host:       l.Host,
		User:       l.User,
		Pass:       pass,
		DisableTLS: l.DisableTLS,
	}, nil
}

// ParseKey decodes a WIF encoded private key. An empty string yields a nil
// key.
func ParseKey(wif string) (*btcec.PrivateKey, error) {
	if wif == "" {
		return nil, nil
	}

	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("invalid WIF key: %w", err)
	}

	return decoded.PrivKey, nil
}

// InternalKey returns the configured covenant internal key.
func (k *KeysConfig) InternalKey() (*btcec.PrivateKey, error) {
	return ParseKey(k.Internal)
}

// CounterpartyKey returns the configured counterparty key.
func (k *KeysConfig) CounterpartyKey() (*btcec.PrivateKey, error) {
	return ParseKey(k.Counterparty)
}

// SignerKey returns the configured signer key.
func (k *KeysConfig) SignerKey() (*btcec.PrivateKey, error) {
	return ParseKey(k.Signer)
}

// SqliteConfig returns the journal database config.
func (c *Config) SqliteConfig() *covdb.SqliteConfig {
	return &covdb.SqliteConfig{
		DatabaseFileName: c.DatabaseFileName,
		CreateTables:     true,
	}
}

// fileExists reports whether the named file or directory exists.
// This function is taken from https://github.com/btcsuite/btcd
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
