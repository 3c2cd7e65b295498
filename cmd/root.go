/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/oklog/run"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opencadc/govos/client"
	"github.com/opencadc/govos/config"
	"github.com/opencadc/govos/error_codes"
	"github.com/opencadc/govos/logging"
	"github.com/opencadc/govos/param"
)

const (
	exitFailure   = 1
	exitRetryable = 11
)

var (
	cfgFile    string
	outputJSON bool

	rootCmd = &cobra.Command{
		Use:   "vos",
		Short: "Interact with VOSpace services",
		Long: `The vos tool manages files and containers held in VOSpace
services: listing, copying, moving, linking and tagging nodes, and
locking them against change.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initialize,
	}
)

// initialize loads the configuration once the flags are parsed.
func initialize(cmd *cobra.Command, _ []string) error {
	if cfgFile != "" {
		if err := os.Setenv("VOS_CONFIG_FILE", cfgFile); err != nil {
			return err
		}
	}
	return config.InitClient()
}

// newClient builds a client for one command invocation.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	return client.New(cmd.Context())
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	logging.SetupLogBuffering()
	defer logging.CloseLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group
	g.Add(func() error {
		return rootCmd.ExecuteContext(ctx)
	}, func(error) {
		cancel()
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err := g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		log.Warningf("Interrupted by %s", sigErr.Signal)
		return err
	}
	if err != nil {
		reportError(err)
	}
	return err
}

// reportError prints a failure the way a user should see it.  Transfer
// failures list every attempt.  Logging may still be buffered when the
// configuration fails to load, so the message goes straight to stderr.
func reportError(err error) {
	log.Debugf("Command failed: %+v", err)
	msg := err.Error()
	var te *client.TransferErrors
	if errors.As(err, &te) {
		msg = te.UserError()
	}
	fmt.Fprintln(os.Stderr, "ERROR:", msg)
}

// exitCode maps an error to the process exit status.  Failures worth
// retrying later exit with 11 so scripts can tell them apart.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var te *client.TransferErrors
	if errors.As(err, &te) {
		if te.AllErrorsRetryable() {
			return exitRetryable
		}
		return exitFailure
	}
	if error_codes.IsRetryable(err) {
		return exitRetryable
	}
	return exitFailure
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/vos/vos-config.yaml)")
	flags.BoolP("debug", "d", false, "Enable debug logs")
	flags.StringP("log", "l", "", "Specified log output file")
	flags.String("cert", "", "Proxy certificate used to authenticate")
	flags.String("token", "", "Delegation token used to authenticate")
	flags.String("registry", "", "Registry used to look up services")
	flags.BoolVarP(&outputJSON, "json", "", false, "output results in JSON format")
	// Checked in main; registered so --help lists it.
	flags.BoolP("version", "", false, "Print the version and exit")

	for flag, key := range map[string]string{
		"debug":    param.Debug.GetName(),
		"log":      param.Logging_LogLocation.GetName(),
		"cert":     param.Client_CertFile.GetName(),
		"token":    param.Client_Token.GetName(),
		"registry": param.Client_RegistryURL.GetName(),
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
