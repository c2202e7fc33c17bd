package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/output"
	"github.com/spoolworks/tally/internal/syncclient"
	"github.com/spoolworks/tally/internal/syncconfig"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage sync authentication",
	GroupID: "system",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an API key for the sync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		apiKey, _ := cmd.Flags().GetString("key")
		if apiKey == "" {
			output.Error("--key is required")
			return fmt.Errorf("api key required")
		}

		serverURL, _ := cmd.Flags().GetString("server")
		if serverURL == "" {
			serverURL = syncconfig.GetServerURL()
		}

		clientID, err := syncconfig.GetClientID()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		// Verify the key before persisting it.
		client := syncclient.New(serverURL, apiKey, clientID)
		if _, err := client.HealthCheck(); err != nil {
			output.Error("cannot reach %s: %v", serverURL, err)
			return err
		}

		email, _ := cmd.Flags().GetString("email")
		creds := &syncconfig.AuthCredentials{
			APIKey:    apiKey,
			Email:     email,
			ServerURL: serverURL,
			ClientID:  clientID,
		}
		if err := syncconfig.SaveAuth(creds); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}

		output.Success("Logged in to %s", serverURL)
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Logged out")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.IsAuthenticated() {
			fmt.Println("Not authenticated.")
			return nil
		}
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Printf("Server: %s\n", syncconfig.GetServerURL())
		if creds != nil {
			if creds.Email != "" {
				fmt.Printf("Email: %s\n", creds.Email)
			}
			fmt.Printf("Client ID: %s\n", creds.ClientID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)

	authLoginCmd.Flags().String("key", "", "API key")
	authLoginCmd.Flags().String("server", "", "Server URL (defaults to configured)")
	authLoginCmd.Flags().String("email", "", "Account email (informational)")
}
