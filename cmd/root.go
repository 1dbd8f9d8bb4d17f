// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/tripwarehouse/config"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tripwarehouse",
	Short: "Load bike share trip history into the trip warehouse",
	Long: `Download published bike share trip archives, resolve their stations, dates,
riders and routes into dimension tables, and load the trips as facts.
Rows the warehouse refuses are quarantined to per-category log files.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a config file (default ./config.yaml)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// exitInterrupted is the shell convention for a process stopped by SIGINT.
const exitInterrupted = 130

func Execute() {
	err := rootCmd.Execute()
	if IsRunInterrupted(err) {
		os.Exit(exitInterrupted)
	}
	if err != nil {
		os.Exit(1)
	}
}
