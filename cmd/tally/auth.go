package main

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/mailtally/internal/cli"
	"github.com/Veraticus/mailtally/internal/config"
	"github.com/Veraticus/mailtally/internal/googleauth"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with external services",
	}

	cmd.AddCommand(authGmailCmd())

	return cmd
}

func authGmailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gmail",
		Short: "Authorize read and send access to Gmail",
		Long: `Run the OAuth flow for Gmail and store the token.

This command will:
1. Start a local callback server
2. Open the Google consent page in your browser
3. Save the token to mailbox.oauth.token_file

The token grants read access for fetching mail and send access for summary
notifications.`,
		RunE: runAuthGmail,
	}

	cmd.Flags().Bool("no-browser", false, "Print the URL instead of opening a browser")

	return cmd
}

func runAuthGmail(cmd *cobra.Command, _ []string) error {
	noBrowser, _ := cmd.Flags().GetBool("no-browser")

	cfg, err := config.LoadOAuthConfig(viper.GetViper())
	if err != nil {
		return err
	}

	token, err := googleauth.AuthenticateInteractive(cmd.Context(), cfg, func(authURL string) {
		fmt.Println(cli.FormatInfo("Open this URL to authorize tally:"))
		fmt.Println(authURL)
		if !noBrowser {
			if err := openBrowser(authURL); err != nil {
				fmt.Println(cli.FormatWarning("Could not open a browser; open the URL manually."))
			}
		}
	})
	if err != nil {
		return fmt.Errorf("gmail authorization failed: %w", err)
	}

	if token.RefreshToken == "" {
		fmt.Println(cli.FormatWarning("No refresh token returned; you may need to re-run this command when the token expires."))
	}
	fmt.Println(cli.FormatSuccess("Gmail authorized. Token saved to " + cfg.TokenFile))
	return nil
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
