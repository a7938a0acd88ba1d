package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dianxiaozhu/gridguard/internal/conf"
	"github.com/dianxiaozhu/gridguard/internal/service"
)

var seedRules string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load templates, keywords, rules and chains from a YAML rule set",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := seedRules
		if path == "" {
			path = cfg.RulesPath
		}
		if path == "" {
			return fmt.Errorf("no rule set given; use --rules or RULES_PATH")
		}

		set, err := conf.LoadRuleSet(path)
		if err != nil {
			return err
		}

		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := service.NewSeedService(a.repos.Templates, a.repos.Keywords, a.repos.Rules, logger).Seed(cmd.Context(), set)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d templates, %d keywords, %d rules, %d chains\n",
			report.Templates, report.Keywords, report.Rules, report.Chains)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedRules, "rules", "", "rule set YAML (defaults to RULES_PATH)")
}
