package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"xhbook/internal/session"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var loginFlags struct {
	studentNo  string
	password   string
	captcha    string
	captchaOut string
	save       bool
}

func init() {
	f := loginCmd.Flags()
	f.StringVar(&loginFlags.studentNo, "student-no", "", "Student number, prompted for when omitted.")
	f.StringVar(&loginFlags.password, "password", "", "Password, prompted for when omitted.")
	f.StringVar(&loginFlags.captcha, "captcha", "", "Captcha answer, skips the captcha prompt.")
	f.StringVar(&loginFlags.captchaOut, "captcha-out", filepath.Join(os.TempDir(), "xhbook-captcha.png"), "Where the captcha image is written.")
	f.BoolVar(&loginFlags.save, "save", false, "Remember the credentials for the next login.")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the bookstore and save the session.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current
		prompt := newPrompter(cmd)
		out := cmd.OutOrStdout()

		if a.controller.Startup(ctx) == session.StateLoggedIn {
			fmt.Fprintf(out, "Already logged in as %s.\n", a.session.Profile().StudentName)
			return nil
		}

		studentNo := loginFlags.studentNo
		password := loginFlags.password
		save := loginFlags.save || (!cmd.Flags().Changed("save") && a.settings.SaveCredentials())
		var err error
		if studentNo == "" {
			studentNo, err = prompt.Ask("Student number", a.settings.Username())
			if err != nil {
				return err
			}
		}
		if password == "" {
			password = a.settings.Password()
			if password == "" || studentNo != a.settings.Username() {
				password, err = prompt.Secret("Password")
				if err != nil {
					return err
				}
			}
		}
		if studentNo == "" || password == "" {
			return errors.New("student number and password are required")
		}

		captcha, err := a.controller.PrepareCaptcha(ctx)
		if err != nil {
			return describe(err)
		}
		code := loginFlags.captcha
		if code == "" {
			err = os.WriteFile(loginFlags.captchaOut, captcha.Image, 0644)
			if err != nil {
				return fmt.Errorf("write captcha image: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Captcha image written to %s\n", loginFlags.captchaOut)
			code, err = prompt.Ask("Captcha", captcha.Guess)
			if err != nil {
				return err
			}
		}

		next, err := a.controller.Login(ctx, studentNo, password, code)
		if err != nil {
			return describe(err)
		}

		a.settings.RememberLogin(studentNo, password, save)
		err = a.settings.Save()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not save settings: %v\n", err)
		}

		fmt.Fprintf(out, "Logged in as %s.\n", a.session.Profile().StudentName)
		if next == session.StepBindPhone {
			fmt.Fprintln(out, "This account has no phone number yet, bind one with `xhbook phone send-code` and `xhbook phone bind`.")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := current.controller.Logout()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the profile of the logged in student.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		err := a.restore(cmd.Context())
		if err != nil {
			return err
		}
		profile := a.session.Profile()

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendRows([]table.Row{
			{"Name", profile.StudentName},
			{"Student number", profile.StudentNo},
			{"Student id", profile.StudentID},
			{"Mobile", profile.Mobile},
		})
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}
