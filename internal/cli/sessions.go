package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"igmonitor/internal/config"
	"igmonitor/internal/monitor"
	"igmonitor/internal/sessions"
)

func newImportSessionsCmd(cfgFile *string) *cobra.Command {
	var clientName, browser, cookiesFile string
	cmd := &cobra.Command{
		Use:   "import-sessions",
		Short: "Merge sessionid cookies into a client's credentials_file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientName == "" {
				return errClientRequired
			}
			return importSessions(cmd, *cfgFile, clientName, browser, cookiesFile)
		},
	}
	cmd.Flags().StringVar(&clientName, "client", "", "client name")
	cmd.Flags().StringVar(&browser, "browser", "", "browser to read ("+strings.Join(sessions.Browsers, ", ")+"); empty reads all")
	cmd.Flags().StringVar(&cookiesFile, "cookies", "", "Netscape cookies.txt to read instead of a browser")
	return cmd
}

func importSessions(cmd *cobra.Command, cfgPath, clientName, browser, cookiesFile string) error {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return err
	}
	cc, ok := cfg.Clients[clientName]
	if !ok {
		return fmt.Errorf("client %q not configured", clientName)
	}
	if strings.TrimSpace(cc.CredentialsFile) == "" {
		return fmt.Errorf("client %q has no credentials_file", clientName)
	}
	target := cfgm.ResolvePath(cc.CredentialsFile)

	var found []string
	if cookiesFile != "" {
		f, err := os.Open(cookiesFile)
		if err != nil {
			return err
		}
		found, err = sessions.FromNetscape(f)
		_ = f.Close()
		if err != nil {
			return err
		}
	} else {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if found, err = sessions.FromBrowser(ctx, browser); err != nil {
			return err
		}
	}

	existing, err := sessions.ReadFile(target)
	if err != nil {
		return err
	}
	merged := sessions.Merge(existing, found)
	if err := sessions.WriteFile(target, merged); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, s := range found {
		fmt.Fprintf(out, "found session %s\n", monitor.Fingerprint(s))
	}
	fmt.Fprintf(out, "%s: %d session(s), %d new\n", target, len(merged), len(merged)-len(existing))
	return nil
}
