package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/server"
)

type subjectFlags struct {
	first string
	last  string
	org   string
}

func (f *subjectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.first, "first", "", "first name (required)")
	cmd.Flags().StringVar(&f.last, "last", "", "last name (required)")
	cmd.Flags().StringVar(&f.org, "org", "", "organization, may be empty")
}

func (f *subjectFlags) subject() (dossier.Subject, error) {
	s := dossier.Subject{
		FirstName:    strings.TrimSpace(f.first),
		LastName:     strings.TrimSpace(f.last),
		Organization: strings.TrimSpace(f.org),
	}
	if s.FirstName == "" || s.LastName == "" {
		return dossier.Subject{}, fmt.Errorf("--first and --last are required")
	}
	return s, nil
}

func newAcquireCmd() *cobra.Command {
	var (
		flags subjectFlags
		force bool
	)
	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Runs one read-through lookup and prints the result as JSON",
		Long: `Looks the subject up in the cache and, on a miss (or with --force), runs a
full acquisition: collect candidate URLs, validate them, fetch and reduce the
content, then cache it. The lookup result is written to stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			subject, err := flags.subject()
			if err != nil {
				return err
			}
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() {
				if cerr := app.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
					rt.logger.Warn("close failed", zap.Error(cerr))
				}
			}()

			res, err := app.Profiles().Lookup(cmd.Context(), subject, force, "")
			if err != nil {
				return fmt.Errorf("acquire %s: %w", subject.FullName(), err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "ignore any cached entry and rebuild")
	return cmd
}
