package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newPlanCmd(v *viper.Viper) *cobra.Command {
	var commands bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the marks, tables, routes and rules derived from the topology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, plan, err := loadPlan(v)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if commands {
				for _, argv := range plan.Commands() {
					fmt.Fprintln(out, strings.Join(argv, " "))
				}
				return nil
			}

			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(plan); err != nil {
				return fmt.Errorf("encode plan: %w", err)
			}
			return enc.Close()
		},
	}

	cmd.Flags().BoolVar(&commands, "commands", false, "Print the ip commands that build the plan from scratch")
	return cmd
}
