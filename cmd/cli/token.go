package cli

import (
	"fmt"
	"strings"
	"time"

	"resolvify/internal/config"
	"resolvify/internal/services"

	"github.com/spf13/cobra"
)

var (
	flagUserID   int
	flagSubject  string
	flagRoles    string
	flagPerms    string
	flagTTLMin   int
	flagNoExpiry bool
)

// tokenCmd generates an HS256 JWT for testing/admin usage.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a JWT (HS256) for API authentication",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		secret := cfg.JWT.Secret
		if secret == "" {
			return fmt.Errorf("jwt.secret is empty; set it in config")
		}
		now := time.Now()
		payload := map[string]interface{}{
			"iat": now.Unix(),
		}
		if flagUserID > 0 {
			payload["user_id"] = flagUserID
			if flagSubject == "" {
				payload["sub"] = fmt.Sprintf("%d", flagUserID)
			}
		}
		if flagSubject != "" {
			payload["sub"] = flagSubject
		}
		if roles := splitCSV(flagRoles); len(roles) > 0 {
			payload["roles"] = roles
		}
		if perms := splitCSV(flagPerms); len(perms) > 0 {
			payload["perms"] = perms
		}
		if !flagNoExpiry {
			payload["exp"] = now.Add(time.Duration(flagTTLMin) * time.Minute).Unix()
		}
		tok, err := services.SignHS256(payload, secret)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().IntVar(&flagUserID, "user-id", 1, "numeric user id to embed in token")
	tokenCmd.Flags().StringVar(&flagSubject, "sub", "", "subject (sub) claim; defaults to user-id if provided")
	tokenCmd.Flags().StringVar(&flagRoles, "roles", "admin", "comma-separated roles (e.g. admin,technician,viewer)")
	tokenCmd.Flags().StringVar(&flagPerms, "perms", "", "comma-separated permissions (optional; overrides role mapping)")
	tokenCmd.Flags().IntVar(&flagTTLMin, "ttl", 60, "token time-to-live in minutes")
	tokenCmd.Flags().BoolVar(&flagNoExpiry, "no-exp", false, "do not include exp claim")
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
