package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonimelisma/romm-sync/internal/config"
	"github.com/tonimelisma/romm-sync/internal/romm"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the RomM server and save the token",
		Long: `Authenticate with the RomM server using a username and password.

The password is read from the terminal without echo, or from standard input
when it is not a terminal. The server URL and username are written to the
config file so later commands find them.`,
		RunE: runLogin,
	}

	cmd.Flags().String("username", "", "RomM username (default: server.username from config)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved server token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := romm.Logout(cc.Cfg.TokenPath(), cc.Logger); err != nil {
				return err
			}

			cc.Statusf("Logged out.\n")

			return nil
		},
	}
}

func newDeviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage this device's registration with the server",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "register",
		Short: "Register this device with the server if it is not registered yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			return withAgent(cmd.Context(), cc, func(a *agent) error {
				return printResult(cc, a.Service.EnsureDeviceRegistered(cmd.Context()))
			})
		},
	})

	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	serverURL := cc.Cfg.Server.URL
	if serverURL == "" {
		return errors.New("no server URL, pass --server or set [server] url in the config")
	}

	username, err := cmd.Flags().GetString("username")
	if err != nil {
		return err
	}

	if username == "" {
		username = cc.Cfg.Server.Username
	}

	if username == "" {
		return errors.New("no username, pass --username or set [server] username in the config")
	}

	password, err := readPassword(cmd.InOrStdin(), username)
	if err != nil {
		return err
	}

	if _, err := romm.Login(ctx, serverURL, username, password, cc.Cfg.TokenPath(), cc.Logger); err != nil {
		return err
	}

	if err := config.SetKey(cc.ConfigPath, "server", "url", serverURL); err != nil {
		return fmt.Errorf("saving server to config: %w", err)
	}

	if err := config.SetKey(cc.ConfigPath, "server", "username", username); err != nil {
		return fmt.Errorf("saving username to config: %w", err)
	}

	cc.Statusf("Logged in to %s as %s.\n", serverURL, username)

	return nil
}

// readPassword prompts on a terminal without echo, or reads one line from a
// pipe (for scripted setups).
func readPassword(in io.Reader, username string) (string, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return readPasswordLine(in)
	}

	// Prompts are always shown, even with --quiet.
	fmt.Fprintf(os.Stderr, "Password for %s: ", username)

	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return string(b), nil
}

func readPasswordLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}

	return line, nil
}
