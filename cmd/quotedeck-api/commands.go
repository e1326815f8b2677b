package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/auth"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/bootstrap"
)

func newSeedCommand() *cobra.Command {
	var (
		organizationName string
		emailDomain      string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create an organization with default members and rate card",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			result, err := bootstrap.Seed(cmd.Context(), app.users, app.quotes, bootstrap.SeedConfig{
				OrganizationName: organizationName,
				EmailDomain:      emailDomain,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "organization %s (%s)\n", result.Organization.Name, result.Organization.ID)
			for _, handle := range []string{"admin", "editor", "pm", "sales", "viewer"} {
				member := result.Members[handle]
				fmt.Fprintf(out, "%-7s %s %s\n", member.Role, member.ID, member.Email)
			}
			fmt.Fprintf(out, "rate card v%d (%s)\n", result.RateCard.Version, result.RateCard.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&organizationName, "org", "Acme", "Organization name")
	cmd.Flags().StringVar(&emailDomain, "email-domain", "example.com", "Email domain for seeded members")
	return cmd
}

func newIssueTokenCommand() *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a session token for an existing member",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			member, err := app.users.FindByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("find member %q: %w", email, err)
			}
			if ttl <= 0 {
				ttl = app.config.SessionTTL
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(app.config.SessionSigningKey),
				Issuer:        app.config.SessionIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueSessionToken(cmd.Context(), auth.SessionSubject{
				UserID: member.ID,
				OrgID:  member.OrgID,
				Role:   string(member.Role),
				Email:  member.Email,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", token, expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Member email")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to session.ttl_minutes)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
