package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with the fitness backend",
	Long: `Login exchanges your account identity for a backend token and stores it
for later runs. A token issued elsewhere can be pasted with --token.`,
	Example: `  stepsync login --email user@example.com --uid abc123
  stepsync login --token`,
	RunE: runLogin,
}

var (
	loginEmail string
	loginUID   string
	loginToken bool
)

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "",
		"Email address")
	loginCmd.Flags().StringVarP(&loginUID, "uid", "u", "",
		"Firebase user ID")
	loginCmd.Flags().BoolVar(&loginToken, "token", false,
		"Prompt for an existing token instead of logging in")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var err error
	if loginToken {
		var token string
		token, err = promptSecret("Token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		err = apiClient.Auth.UseToken(strings.TrimSpace(token))
	} else {
		err = apiClient.Auth.Login(ctx, loginEmail, loginUID)
	}

	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		} else {
			printError("Login failed: %v", err)
		}
		return err
	}

	info, err := apiClient.Auth.GetToken()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":    true,
			"user_id":    info.UserID,
			"email":      info.Email,
			"expires_at": info.ExpiresAt,
		})
	} else {
		printSuccess("Logged in as %s (%s)", info.UserID, info.Email)
	}
	return nil
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Auth.Logout(cmd.Context()); err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]interface{}{"success": true})
		} else {
			printSuccess("Logged out")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read without echo
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // New line after input

	if err != nil {
		return "", err
	}

	return string(secret), nil
}
