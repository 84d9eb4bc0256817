package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/99designs/keyring"
	"github.com/spf13/cobra"

	"github.com/dhcgn/archive-import/credential"
)

// RingOpener opens the keyring the credential commands operate on.
type RingOpener func() (keyring.Keyring, error)

// NewCredentialCommand returns the credential subcommand, which stores and
// removes destination passwords in the system keyring.
func NewCredentialCommand(open RingOpener) *cobra.Command {
	if open == nil {
		open = credential.Open
	}

	root := &cobra.Command{
		Use:   "credential",
		Short: "Manage destination passwords in the system keyring",
	}

	set := &cobra.Command{
		Use:   "set [user]",
		Short: "Store the password for user, read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			ring, err := open()
			if err != nil {
				return err
			}
			if err := credential.Store(ring, args[0], password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password stored for %s\n", args[0])
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "delete [user]",
		Short: "Remove the stored password for user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := open()
			if err != nil {
				return err
			}
			if err := credential.Remove(ring, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password removed for %s\n", args[0])
			return nil
		},
	}

	root.AddCommand(set, remove)
	return root
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("password is empty")
	}
	return password, nil
}
