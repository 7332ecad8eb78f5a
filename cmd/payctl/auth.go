package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-pay/client/internal/guard"
	authmodel "github.com/zhouzirui/z-pay/client/internal/model/auth"
)

func newLoginCmd(c *cli) *cobra.Command {
	var phone, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with phone and password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.require(guard.RequireAnonymous); err != nil {
				return err
			}
			if password == "" {
				var err error
				if password, err = c.prompt("Password: "); err != nil {
					return err
				}
			}
			user, err := c.app.Auth.SignIn(cmd.Context(), phone, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Signed in as %s (%s)\n", user.Name, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "Account phone number")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when empty)")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func newRegisterCmd(c *cli) *cobra.Command {
	var req authmodel.SignUpRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account; a verification code is sent to the phone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.require(guard.RequireAnonymous); err != nil {
				return err
			}
			resp, err := c.app.Auth.SignUp(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, resp.Message)
			fmt.Fprintf(c.out, "Finish with: payctl verify --phone %s --code <code>\n", req.Phone)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&req.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password for later sign-ins")
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newVerifyCmd(c *cli) *cobra.Command {
	var phone, code string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Sign in with a verification code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.require(guard.RequireAnonymous); err != nil {
				return err
			}
			user, err := c.app.Auth.VerifyOTP(cmd.Context(), phone, code)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Signed in as %s (%s)\n", user.Name, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&code, "code", "", "Verification code")
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func newLogoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(*cobra.Command, []string) error {
			c.app.Auth.Logout()
			fmt.Fprintln(c.out, "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account as the gateway sees it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.require(guard.RequireAuth); err != nil {
				return err
			}
			user, err := c.app.Auth.Check(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "id:       %s\nname:     %s\nrole:     %s\nphone:    %s\n", user.ID, user.Name, user.Role, user.Phone)
			if user.Email != "" {
				fmt.Fprintf(c.out, "email:    %s\n", user.Email)
			}
			if user.MerchantID != "" {
				fmt.Fprintf(c.out, "merchant: %s\n", user.MerchantID)
			}
			return nil
		},
	}
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local session without calling the gateway",
		RunE: func(*cobra.Command, []string) error {
			s := c.app.Sessions.Snapshot()
			if !s.IsAuthenticated {
				fmt.Fprintln(c.out, "Not signed in")
				return nil
			}
			fmt.Fprintf(c.out, "Signed in as %s (%s)\n", s.User.Name, s.User.ID)
			return nil
		},
	}
}

func newPasswordCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Set or check the account password",
	}

	set := &cobra.Command{
		Use:   "set [password]",
		Short: "Replace the account password",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.require(guard.RequireAuth); err != nil {
				return err
			}
			password, err := c.argOrPrompt(args, "New password: ")
			if err != nil {
				return err
			}
			if err := c.app.Auth.SetPassword(cmd.Context(), password); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Password updated")
			return nil
		},
	}

	check := &cobra.Command{
		Use:   "check [password]",
		Short: "Check a password against the account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.require(guard.RequireAuth); err != nil {
				return err
			}
			password, err := c.argOrPrompt(args, "Password: ")
			if err != nil {
				return err
			}
			ok, err := c.app.Auth.CheckPassword(cmd.Context(), password)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintln(c.out, "Password matches")
			} else {
				fmt.Fprintln(c.out, "Password does not match")
			}
			return nil
		},
	}

	cmd.AddCommand(set, check)
	return cmd
}

func (c *cli) argOrPrompt(args []string, label string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return c.prompt(label)
}

// prompt reads one line from stdin. Input is echoed.
func (c *cli) prompt(label string) (string, error) {
	fmt.Fprint(c.out, label)
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
