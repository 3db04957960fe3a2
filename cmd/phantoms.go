package main

import (
	"errors"
	"fmt"

	"github.com/chatphantom/phantomchat/internal/infrastructure/backend"
	"github.com/chatphantom/phantomchat/internal/logger"
	"github.com/chatphantom/phantomchat/internal/services/status"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newPhantomsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "phantoms",
		Aliases: []string{"ph"},
		Short:   "List and manage phantoms",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List your phantoms and their preparation status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listings, err := a.phantoms.Refresh(cmd.Context())
			if err != nil {
				return userError(err)
			}
			if len(listings) == 0 {
				fmt.Println("No phantoms yet. Create one with: phantomchat phantoms create --name NAME --url URL")
				return nil
			}
			for _, p := range listings {
				fmt.Printf("%s  %s  %s  %s\n",
					color.New(color.Bold).Sprint(p.Name),
					color.New(color.FgHiBlack).Sprint(p.ID),
					p.WebsiteURL,
					viewLabel(p.Status),
				)
			}
			return nil
		},
	}

	var name, websiteURL string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a phantom from a website",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.phantoms.Create(cmd.Context(), name, websiteURL)
			if err != nil {
				return userError(err)
			}
			color.New(color.FgGreen).Printf("Created %s (%s)\n", p.Name, p.ID)
			fmt.Printf("Follow its preparation with: phantomchat status %s --watch\n", p.ID)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "phantom name")
	create.Flags().StringVar(&websiteURL, "url", "", "website URL; https:// is added when missing")

	rename := &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a phantom",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.phantoms.Rename(cmd.Context(), args[0], args[1])
			if err != nil {
				return userError(err)
			}
			color.New(color.FgGreen).Printf("Renamed %s to %s\n", p.ID, p.Name)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a phantom",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.phantoms.Delete(cmd.Context(), args[0]); err != nil {
				return userError(err)
			}
			color.New(color.FgGreen).Printf("Deleted %s\n", args[0])
			return nil
		},
	}

	recrawl := &cobra.Command{
		Use:   "recrawl ID",
		Short: "Crawl and index a phantom's website again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.phantoms.Recrawl(cmd.Context(), args[0]); err != nil {
				return userError(err)
			}
			color.New(color.FgGreen).Printf("Recrawl started for %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, create, rename, del, recrawl)
	return cmd
}

// userError replaces management failures with text meant for people.
// The underlying error is logged.
func userError(err error) error {
	l := logger.With(logger.PHANTOM)
	l.Debug().Err(err).Msg("Phantom request failed")
	return errors.New(backend.UserMessage(err))
}

func viewLabel(snap status.Snapshot) string {
	switch snap.View {
	case status.ViewChat:
		return color.New(color.FgGreen).Sprint("ready")
	case status.ViewFinalizing:
		return color.New(color.FgYellow).Sprint("finalizing")
	}
	if !snap.Received {
		return color.New(color.FgHiBlack).Sprint("connecting")
	}
	label := "preparing"
	if snap.Status != "" {
		label = string(snap.Status)
	}
	if snap.Progress != nil {
		label = fmt.Sprintf("%s %.1f%%", label, *snap.Progress)
	}
	return color.New(color.FgYellow).Sprint(label)
}
