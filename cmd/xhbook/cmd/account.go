package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	phoneCmd.AddCommand(phoneSendCodeCmd, phoneBindCmd)
	passwordCmd.AddCommand(passwordSendCodeCmd, passwordResetCmd)
	rootCmd.AddCommand(phoneCmd, passwordCmd)
}

var phoneCmd = &cobra.Command{
	Use:   "phone",
	Short: "Bind a phone number to the account.",
}

var phoneSendCodeCmd = &cobra.Command{
	Use:   "send-code <mobile>",
	Short: "Send a verification code to the phone number.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current
		err := a.restore(ctx)
		if err != nil {
			return err
		}
		err = a.controller.SendBindPhoneCode(ctx, args[0])
		if err != nil {
			return a.explain(ctx, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Verification code sent to %s.\n", args[0])
		return nil
	},
}

var phoneBindCmd = &cobra.Command{
	Use:   "bind <mobile> <code>",
	Short: "Bind the phone number with the code it received.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current
		err := a.restore(ctx)
		if err != nil {
			return err
		}
		err = a.controller.BindPhone(ctx, args[0], args[1])
		if err != nil {
			return a.explain(ctx, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Phone number %s bound.\n", args[0])
		return nil
	},
}

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Reset a forgotten password.",
}

var passwordSendCodeCmd = &cobra.Command{
	Use:   "send-code <student no> <mobile>",
	Short: "Send a verification code to the phone bound to the account.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := current.controller.SendForgetPasswordCode(cmd.Context(), args[0], args[1])
		if err != nil {
			return describe(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Verification code sent to %s.\n", args[1])
		return nil
	},
}

var passwordResetCmd = &cobra.Command{
	Use:   "reset <student no> <mobile> <code>",
	Short: "Reset the password with the code the phone received.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := current.controller.ResetPassword(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return describe(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Password reset.")
		return nil
	},
}
