package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"igmonitor/internal/app"
	"igmonitor/internal/config"
	logx "igmonitor/pkg/logx"
)

func newListCmd(cfgFile *string) *cobra.Command {
	var clientName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the monitored accounts of a client from its store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientName == "" {
				return errClientRequired
			}
			cfgm := config.NewManager(*cfgFile)
			cfg, err := cfgm.Parse()
			if err != nil {
				return err
			}
			st, err := app.OpenClientStore(cfgm, cfg, clientName, logx.Nop())
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			recs, err := st.ListAll(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tSTATE\tCHECKS\tSINCE\tNEXT CHECK")
			for _, r := range recs {
				fmt.Fprintf(w, "@%s\t%s\t%d\t%s\t%s\n", r.ID, r.State, r.CheckCount,
					r.CreatedAt.Local().Format(time.DateTime), r.NextCheckAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&clientName, "client", "", "client name")
	return cmd
}
