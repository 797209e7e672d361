package cmd

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the client settings.",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := current.settings
		password := ""
		if s.Password() != "" {
			password = "(saved)"
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"Setting", "Value"})
		t.AppendRows([]table.Row{
			{"username", s.Username()},
			{"password", password},
			{"save_credentials", s.SaveCredentials()},
			{"allow_data_collection", s.AllowDataCollection()},
		})
		t.AppendFooter(table.Row{"file", s.Path()})
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:       "set <save_credentials|allow_data_collection> <true|false>",
	Short:     "Change a setting and save it.",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"save_credentials", "allow_data_collection"},
	RunE: func(cmd *cobra.Command, args []string) error {
		s := current.settings
		value, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("'%s' is not a boolean", args[1])
		}

		switch args[0] {
		case "save_credentials":
			s.SetSaveCredentials(value)
			if !value {
				s.SetUsername("")
				s.SetPassword("")
			}
		case "allow_data_collection":
			s.SetAllowDataCollection(value)
		default:
			return fmt.Errorf("unknown setting '%s'", args[0])
		}

		err = s.Save()
		if err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", args[0], value)
		return nil
	},
}
