package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/recogito/studio-jobs/internal/auth"
)

func (a *app) newTokenCmd() *cobra.Command {
	var userID string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token signed with the API's secret (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := a.v.GetString("jwt_secret")
			if secret == "" {
				return errors.New("jwt secret is required (--secret or JOBCTL_JWT_SECRET)")
			}
			if userID == "" {
				return errors.New("--user is required")
			}

			token, err := auth.NewTokenManager(secret, a.v.GetString("issuer")).Issue(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to issue the token for")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().String("secret", "", "HMAC secret shared with the api service")
	cmd.Flags().String("issuer", "", "token issuer")

	_ = a.v.BindPFlag("jwt_secret", cmd.Flags().Lookup("secret"))
	_ = a.v.BindPFlag("issuer", cmd.Flags().Lookup("issuer"))
	return cmd
}
