package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mohammad-safakhou/catengine/internal/policy"
	"github.com/mohammad-safakhou/catengine/models"
	"github.com/spf13/cobra"
)

func policyCMD(cfgPath *string) *cobra.Command {
	var namespace string
	root := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and change selection policies shared through redis",
	}
	root.PersistentFlags().StringVarP(&namespace, "namespace", "n", "", "namespace such as org:course:exam (empty = global)")

	withResolver := func(cmd *cobra.Command, fn func(r *policy.Resolver) error) error {
		a, err := loadApp(*cfgPath)
		if err != nil {
			return err
		}
		defer a.log.Sync()
		return fn(a.resolver(a.sharedKV(cmd.Context())))
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the policy in force for a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResolver(cmd, func(r *policy.Resolver) error {
				return printJSON(cmd.OutOrStdout(), r.Resolve(cmd.Context(), namespace, true))
			})
		},
	}

	var (
		preferBalanced bool
		deterministic  bool
		maxPerTopic    int
		topK           int
		band           float64
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Set the policy for a namespace; unset flags keep the current value",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResolver(cmd, func(r *policy.Resolver) error {
				p := r.Resolve(cmd.Context(), namespace, true).Policy
				f := cmd.Flags()
				if f.Changed("prefer-balanced") {
					p.PreferBalanced = preferBalanced
				}
				if f.Changed("deterministic") {
					p.Deterministic = deterministic
				}
				if f.Changed("max-per-topic") {
					p.MaxPerTopic = optionalInt(maxPerTopic)
				}
				if f.Changed("top-k") {
					p.TopKRandom = optionalInt(topK)
				}
				if f.Changed("band") {
					p.InfoBandFraction = band
				}
				res := r.Set(cmd.Context(), namespace, p)
				if res.MirrorErr != nil {
					return res.MirrorErr
				}
				return printJSON(cmd.OutOrStdout(), res.Binding)
			})
		},
	}
	set.Flags().BoolVar(&preferBalanced, "prefer-balanced", true, "damp information by topic exposure")
	set.Flags().BoolVar(&deterministic, "deterministic", false, "always take the most informative item")
	set.Flags().IntVar(&maxPerTopic, "max-per-topic", 0, "cap items per topic (0 = no cap)")
	set.Flags().IntVar(&topK, "top-k", 0, "pick uniformly among the k best (0 = use the information band)")
	set.Flags().Float64Var(&band, "band", models.DefaultInfoBandFraction, "information band fraction")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the policy set for a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResolver(cmd, func(r *policy.Resolver) error {
				if err := r.Clear(cmd.Context(), namespace); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %q\n", namespace)
				return nil
			})
		},
	}

	var includeGlobal bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List namespaces that carry a policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResolver(cmd, func(r *policy.Resolver) error {
				nss, err := r.Namespaces(cmd.Context(), includeGlobal)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), nss)
			})
		},
	}
	list.Flags().BoolVar(&includeGlobal, "include-global", false, "include the global namespace")

	root.AddCommand(get, set, clearCmd, list)
	return root
}

func optionalInt(v int) *int {
	if v <= 0 {
		return nil
	}
	return models.IntPtr(v)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
