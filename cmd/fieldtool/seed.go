package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacksonlee411/issuefields/internal/server"
	cfports "github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	cftypes "github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
	itsservices "github.com/jacksonlee411/issuefields/modules/issuetypescheme/services"
)

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var (
		adminGroup string
		admins     []string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the standard issue types, the default scheme and the admin group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			adminGroup = strings.TrimSpace(adminGroup)
			if adminGroup == "" {
				return errors.New("missing --admin-group")
			}
			ctx := cmd.Context()
			logger := opts.logger()
			stores, err := server.OpenStores(ctx, opts.config(), logger)
			if err != nil {
				return err
			}
			defer stores.Close()

			cf, its := stores.CustomFields, stores.IssueTypeSchemes
			schemes := itsservices.NewSchemeService(itsservices.Stores{
				IssueTypes: its, Schemes: its, Sessions: its,
				Issues: cf, Changes: cf, Options: cf, Projects: cf, Tx: cf,
			}, logger)
			if err := schemes.Bootstrap(ctx); err != nil {
				return fmt.Errorf("bootstrap issue types: %w", err)
			}

			var members []string
			for _, name := range admins {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				_, err := cf.GetUser(ctx, name)
				switch {
				case errors.Is(err, cfports.ErrUserNotFound):
					if err := cf.PutUser(ctx, cftypes.User{Name: name, DisplayName: name, Active: true}); err != nil {
						return err
					}
				case err != nil:
					return err
				}
				members = append(members, name)
			}
			if err := cf.PutGroup(ctx, cftypes.Group{Name: adminGroup}, members...); err != nil {
				return fmt.Errorf("seed admin group: %w", err)
			}

			all, err := schemes.ListIssueTypes(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d issue types, group %s (%d members)\n", len(all), adminGroup, len(members))
			return nil
		},
	}
	cmd.Flags().StringVar(&adminGroup, "admin-group", envOr("ADMIN_GROUP", "issue-administrators"), "group whose members administer schemes")
	cmd.Flags().StringSliceVar(&admins, "admin", nil, "user added to the admin group (repeatable)")
	return cmd
}
