package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Coollin0/Indie-Hain/internal/client"
)

func apiBase() string {
	if v := os.Getenv("HAIN_API"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// newAPI builds an API client seeded from the stored session, creating a
// device id on first use.
func newAPI() (*client.API, *client.Session, error) {
	session, err := client.LoadSession()
	if err != nil {
		return nil, nil, err
	}
	if session.BaseURL == "" {
		session.BaseURL = apiBase()
	}
	if session.DeviceID == "" {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, err
		}
		session.DeviceID = hex.EncodeToString(buf)
	}
	api := client.NewAPI(session.BaseURL)
	api.DeviceID = session.DeviceID
	api.SetTokens(session.AccessToken, session.RefreshToken)
	return api, session, nil
}

// saveTokens persists the (possibly rotated) token pair.
func saveTokens(api *client.API, session *client.Session) error {
	session.AccessToken, session.RefreshToken = api.Tokens()
	return session.Save()
}

func NewRegisterCommand() *cobra.Command {
	var email, password, username string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and store the session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, session, err := newAPI()
			if err != nil {
				return err
			}
			user, err := api.Register(context.Background(), email, password, username)
			if err != nil {
				return err
			}
			if err := saveTokens(api, session); err != nil {
				return err
			}
			fmt.Printf("registered as %s (%s)\n", user.Username, user.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&username, "username", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func NewLoginCommand() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, session, err := newAPI()
			if err != nil {
				return err
			}
			user, err := api.Login(context.Background(), email, password)
			if err != nil {
				return err
			}
			if err := saveTokens(api, session); err != nil {
				return err
			}
			fmt.Printf("logged in as %s (role %s)\n", user.Username, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
