package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func rulesCmd(a *app) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "rules [module]",
		Short: "List the scoring rule sets",
		Long:  `Rules lists the compiled rule sets of every module, or of one module.
With --yaml the rule sets are printed in the rules file format, ready to be
edited and loaded back through engine.rules_file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modules := domain.Modules()
			if len(args) == 1 {
				m, err := domain.ParseModule(args[0])
				if err != nil {
					return err
				}
				modules = []domain.Module{m}
			}

			_, set, err := a.scorer()
			if err != nil {
				return err
			}
			defer set.Close()

			if asYAML {
				var f rules.File
				for _, m := range modules {
					sets, err := set.RuleSets(m)
					if err != nil {
						return err
					}
					for _, rs := range sets {
						f.RuleSets = append(f.RuleSets, rules.FileRuleSet{Module: string(m), RuleSet: *rs})
					}
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(f)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "MODULE\tRULE SET\tFACTORS\tTAGS\tTRANSFORM")
			for _, m := range modules {
				sets, err := set.RuleSets(m)
				if err != nil {
					return err
				}
				for _, rs := range sets {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", m, rs.ID, len(rs.Factors), len(rs.Tags), rs.Transform)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print rule sets as a YAML rules file")
	return cmd
}
