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
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/tripwarehouse/cmd/dbopen"
	"github.com/cardinalhq/tripwarehouse/internal/idgen"
	"github.com/cardinalhq/tripwarehouse/internal/ledger"
	"github.com/cardinalhq/tripwarehouse/warehouse"
)

func init() {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the processed file ledger",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List processed files and their quarantined record counts",
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			client, err := dbopen.WarehouseClient(ctx, dbopen.WarnOnMigrationMismatch())
			if err != nil {
				return err
			}
			defer client.Close()
			return listLedger(ctx, client, os.Stdout)
		},
	}

	ledgerCmd.AddCommand(listCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func listLedger(ctx context.Context, client warehouse.Client, out io.Writer) error {
	records, err := ledger.New(client, 0).Records(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tQUARANTINED\tLOADED")
	var total int64
	for _, r := range records {
		total += r.QuarantinedCount
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", r.Filename, r.QuarantinedCount, idgen.Started(r.RunID).Format("2006-01-02 15:04"))
	}
	_, _ = fmt.Fprintf(w, "%d files\t%d\t\n", len(records), total)
	return w.Flush()
}
