package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/calder-ai/calder/internal/config"
	"github.com/calder-ai/calder/internal/sessions"
)

func sessionsCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored conversations",
		Run: func(cmd *cobra.Command, args []string) {
			runSessions(channel)
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "only show sessions for one channel")
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a stored conversation",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runSessionsDelete(args[0])
		},
	})
	return cmd
}

func runSessions(channel string) {
	store := openSessionStore()
	infos := store.List(channel)
	if len(infos) == 0 {
		fmt.Println("no sessions")
		return
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Updated.After(infos[j].Updated) })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tLABEL\tMESSAGES\tUPDATED")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			info.Key, info.Label, info.MessageCount, info.Updated.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func runSessionsDelete(key string) {
	store := openSessionStore()
	if _, ok := store.Get(key); !ok {
		fmt.Fprintf(os.Stderr, "no such session: %s\n", key)
		os.Exit(1)
	}
	if err := store.Delete(key); err != nil {
		fmt.Fprintf(os.Stderr, "delete failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("deleted %s\n", key)
}

func openSessionStore() *sessions.Store {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	store, err := sessions.NewStore(cfg.WorkspacePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open sessions: %v\n", err)
		os.Exit(1)
	}
	return store
}
