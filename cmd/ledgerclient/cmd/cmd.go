// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"fmt"
	"io/ioutil"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/node"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	optionNameDataDir               = "data-dir"
	optionNameAPIAddr               = "api-addr"
	optionNameEndpoint              = "endpoint"
	optionNameResolverEndpoint      = "resolver-endpoint"
	optionCORSAllowedOrigins        = "cors-allowed-origins"
	optionNameVerbosity             = "verbosity"
	optionNameSignerKeys            = "signer-key"
	optionNamePassword              = "password"
	optionNamePasswordFile          = "password-file"
	optionNameTxInFlightLimit       = "tx-inflight-limit"
	optionNameCallInFlightLimit     = "call-inflight-limit"
	optionNameCallsPerSecond        = "calls-per-second"
	optionNameConfirmationDepth     = "confirmation-depth"
	optionNameLandedDepth           = "landed-depth"
	optionNameCancellationDepth     = "cancellation-depth"
	optionNameBlockTime             = "block-time"
	optionNameSkipSyncWait          = "skip-sync-wait"
	optionNameBackoffInterval       = "backoff-interval"
	optionNameCallTimeout           = "call-timeout"
	optionNamePendingTimeout        = "pending-timeout"
	optionNameOperationPollInterval = "operation-poll-interval"
	optionNameBindingCacheSize      = "binding-cache-size"
	optionNameMinGasPrice           = "min-gas-price"
	optionNameMaxGasPrice           = "max-gas-price"
	optionNameFallbackGasLimit      = "fallback-gas-limit"
	optionNameTracingEnabled        = "tracing-enable"
	optionNameTracingEndpoint       = "tracing-endpoint"
	optionNameTracingServiceName    = "tracing-service-name"
)

func init() {
	cobra.EnableCommandSorting = false
}

type command struct {
	root           *cobra.Command
	config         *viper.Viper
	fs             afero.Fs
	passwordReader passwordReader
	cfgFile        string
	homeDir        string
}

type option func(*command)

func newCommand(opts ...option) (c *command, err error) {
	c = &command{
		root: &cobra.Command{
			Use:           "ledgerclient",
			Short:         "Ethereum contract call client",
			SilenceErrors: true,
			SilenceUsage:  true,
			PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
				return c.initConfig()
			},
		},
	}

	for _, o := range opts {
		o(c)
	}
	if c.passwordReader == nil {
		c.passwordReader = new(stdInPasswordReader)
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}

	// Find home directory.
	if err := c.setHomeDir(); err != nil {
		return nil, err
	}

	c.initGlobalFlags()

	if err := c.initStartCmd(); err != nil {
		return nil, err
	}

	if err := c.initSendCmd(); err != nil {
		return nil, err
	}

	if err := c.initCallCmd(); err != nil {
		return nil, err
	}

	if err := c.initPendingCmd(); err != nil {
		return nil, err
	}

	c.initPrintConfigCmd()
	c.initVersionCmd()

	return c, nil
}

func (c *command) Execute() (err error) {
	return c.root.Execute()
}

// Execute parses command line arguments and runs appropriate functions.
func Execute() (err error) {
	c, err := newCommand()
	if err != nil {
		return err
	}
	return c.Execute()
}

func (c *command) initGlobalFlags() {
	globalFlags := c.root.PersistentFlags()
	globalFlags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.ledgerclient.yaml)")
}

func (c *command) initConfig() (err error) {
	config := viper.New()
	configName := ".ledgerclient"
	if c.cfgFile != "" {
		// Use config file from the flag.
		config.SetConfigFile(c.cfgFile)
	} else {
		// Search config in home directory with name ".ledgerclient" (without extension).
		config.AddConfigPath(c.homeDir)
		config.SetConfigName(configName)
	}

	// Environment
	config.SetEnvPrefix("ledgerclient")
	config.AutomaticEnv() // read in environment variables that match
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if c.homeDir != "" && c.cfgFile == "" {
		c.cfgFile = filepath.Join(c.homeDir, configName+".yaml")
	}

	// If a config file is found, read it in.
	if err := config.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if !errors.As(err, &e) {
			return err
		}
	}
	c.config = config
	return nil
}

func (c *command) setHomeDir() (err error) {
	if c.homeDir != "" {
		return
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	c.homeDir = dir
	return nil
}

// setAllFlags registers the options shared by every command that connects
// to the node.
func (c *command) setAllFlags(cmd *cobra.Command) {
	cmd.Flags().String(optionNameDataDir, filepath.Join(c.homeDir, ".ledgerclient"), "data directory, empty keeps state in memory")
	cmd.Flags().String(optionNameEndpoint, "ws://localhost:8546", "ethereum node endpoint")
	cmd.Flags().String(optionNameResolverEndpoint, "", "ENS compatible endpoint used to resolve contract names")
	cmd.Flags().String(optionNameVerbosity, "info", "log verbosity level 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace")
	cmd.Flags().StringSlice(optionNameSignerKeys, nil, "names of keystore keys that sign transactions locally, can be repeated")
	cmd.Flags().String(optionNamePassword, "", "password for decrypting signer keys")
	cmd.Flags().String(optionNamePasswordFile, "", "path to a file that contains password for decrypting signer keys")
	cmd.Flags().Int(optionNameTxInFlightLimit, 10, "maximum number of unconfirmed transactions")
	cmd.Flags().Int(optionNameCallInFlightLimit, 50, "maximum number of concurrent read calls")
	cmd.Flags().Float64(optionNameCallsPerSecond, 0, "read calls per second, 0 is unlimited")
	cmd.Flags().Uint64(optionNameConfirmationDepth, 4, "confirmations after which a transaction is final")
	cmd.Flags().Uint64(optionNameLandedDepth, 2, "confirmations after which a transaction is reported as landed")
	cmd.Flags().Uint64(optionNameCancellationDepth, 6, "confirmations of a reused nonce after which a transaction is cancelled")
	cmd.Flags().Duration(optionNameBlockTime, 15*time.Second, "chain block time")
	cmd.Flags().Bool(optionNameSkipSyncWait, false, "do not wait for the node to sync")
	cmd.Flags().Duration(optionNameBackoffInterval, time.Second, "wait before resubmitting after the in-flight limit was reached")
	cmd.Flags().Duration(optionNameCallTimeout, 30*time.Second, "timeout of a single node request")
	cmd.Flags().Duration(optionNamePendingTimeout, 0, "fail transactions without a receipt after this duration, 0 disables it")
	cmd.Flags().Duration(optionNameOperationPollInterval, time.Second, "operation completion poll interval")
	cmd.Flags().Int(optionNameBindingCacheSize, 256, "number of cached contract bindings")
	cmd.Flags().String(optionNameMinGasPrice, "1000000000", "minimum gas price in wei")
	cmd.Flags().String(optionNameMaxGasPrice, "500000000000", "maximum gas price in wei")
	cmd.Flags().Uint64(optionNameFallbackGasLimit, 3000000, "gas limit used when estimation fails")
	cmd.Flags().Bool(optionNameTracingEnabled, false, "enable tracing")
	cmd.Flags().String(optionNameTracingEndpoint, "127.0.0.1:6831", "endpoint to send tracing data")
	cmd.Flags().String(optionNameTracingServiceName, "ledgerclient", "service name identifier for tracing")
}

// nodeOptions reads the node configuration from flags, environment and the
// config file.
func (c *command) nodeOptions() (o node.Options, err error) {
	minGasPrice, ok := new(big.Int).SetString(c.config.GetString(optionNameMinGasPrice), 10)
	if !ok {
		return o, fmt.Errorf("invalid %s %q", optionNameMinGasPrice, c.config.GetString(optionNameMinGasPrice))
	}
	maxGasPrice, ok := new(big.Int).SetString(c.config.GetString(optionNameMaxGasPrice), 10)
	if !ok {
		return o, fmt.Errorf("invalid %s %q", optionNameMaxGasPrice, c.config.GetString(optionNameMaxGasPrice))
	}

	return node.Options{
		DataDir:               c.config.GetString(optionNameDataDir),
		APIAddr:               c.config.GetString(optionNameAPIAddr),
		CORSAllowedOrigins:    c.config.GetStringSlice(optionCORSAllowedOrigins),
		Endpoint:              c.config.GetString(optionNameEndpoint),
		ResolverEndpoint:      c.config.GetString(optionNameResolverEndpoint),
		BlockTime:             c.config.GetDuration(optionNameBlockTime),
		SkipSyncWait:          c.config.GetBool(optionNameSkipSyncWait),
		TracingEnabled:        c.config.GetBool(optionNameTracingEnabled),
		TracingEndpoint:       c.config.GetString(optionNameTracingEndpoint),
		TracingServiceName:    c.config.GetString(optionNameTracingServiceName),
		TxInFlightLimit:       c.config.GetInt(optionNameTxInFlightLimit),
		CallInFlightLimit:     c.config.GetInt(optionNameCallInFlightLimit),
		CallsPerSecond:        c.config.GetFloat64(optionNameCallsPerSecond),
		ConfirmationDepth:     c.config.GetUint64(optionNameConfirmationDepth),
		LandedDepth:           c.config.GetUint64(optionNameLandedDepth),
		CancellationDepth:     c.config.GetUint64(optionNameCancellationDepth),
		PendingTimeout:        c.config.GetDuration(optionNamePendingTimeout),
		BackoffInterval:       c.config.GetDuration(optionNameBackoffInterval),
		CallTimeout:           c.config.GetDuration(optionNameCallTimeout),
		OperationPollInterval: c.config.GetDuration(optionNameOperationPollInterval),
		BindingCacheSize:      c.config.GetInt(optionNameBindingCacheSize),
		MinGasPrice:           minGasPrice,
		MaxGasPrice:           maxGasPrice,
		FallbackGasLimit:      c.config.GetUint64(optionNameFallbackGasLimit),
	}, nil
}

func newLogger(cmd *cobra.Command, verbosity string) (logging.Logger, error) {
	var logger logging.Logger
	switch verbosity {
	case "0", "silent":
		logger = logging.New(ioutil.Discard, 0)
	case "1", "error":
		logger = logging.New(cmd.OutOrStdout(), logrus.ErrorLevel)
	case "2", "warn":
		logger = logging.New(cmd.OutOrStdout(), logrus.WarnLevel)
	case "3", "info":
		logger = logging.New(cmd.OutOrStdout(), logrus.InfoLevel)
	case "4", "debug":
		logger = logging.New(cmd.OutOrStdout(), logrus.DebugLevel)
	case "5", "trace":
		logger = logging.New(cmd.OutOrStdout(), logrus.TraceLevel)
	default:
		return nil, fmt.Errorf("unknown verbosity level %q", verbosity)
	}
	return logger, nil
}
