package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"serpradio/config"
	"serpradio/radar"
	"serpradio/radar/store"
)

func getEvaluateCmd() *cobra.Command {
	evaluateCmd := &cobra.Command{
		Use:   "evaluate [config-file]",
		Args:  cobra.ExactArgs(1),
		Short: "Evaluate the current deal quality for one route and departure month",
		Long: `Evaluate reads the observation database named in the config file and
prints the deal snapshot for one route as JSON: the current low, the
trailing baseline, the deal score and a buy/track/wait recommendation.
The month flag is a calendar month number and resolves to its next
occurrence.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := getCmdLogger(cmd)
			if err != nil {
				return err
			}

			origin, err := cmd.Flags().GetString("origin")
			if err != nil {
				return err
			}
			destination, err := cmd.Flags().GetString("destination")
			if err != nil {
				return err
			}
			month, err := cmd.Flags().GetInt("month")
			if err != nil {
				return err
			}
			cabin, err := cmd.Flags().GetString("cabin")
			if err != nil {
				return err
			}

			cfg, err := config.ParseConfig(args[0])
			if err != nil {
				return err
			}

			observationStore, err := store.NewStore(cfg.ObservationDb, logger)
			if err != nil {
				return fmt.Errorf("failed to open observation store: %w", err)
			}
			defer observationStore.Close()

			evaluator := radar.NewEvaluator(logger, observationStore)
			evaluation, err := evaluator.EvaluateDeal(cmd.Context(), origin, destination, month, cabin)
			if err != nil {
				return err
			}

			bz, err := json.MarshalIndent(evaluation, "", "  ")
			if err != nil {
				return err
			}

			fmt.Println(string(bz))
			return nil
		},
	}

	evaluateCmd.Flags().String("origin", "", "IATA code of the origin airport")
	evaluateCmd.Flags().String("destination", "", "IATA code of the destination airport")
	evaluateCmd.Flags().Int("month", 0, "departure month number (1-12)")
	evaluateCmd.Flags().String("cabin", "economy", "cabin class: economy, premium, business or first")
	_ = evaluateCmd.MarkFlagRequired("origin")
	_ = evaluateCmd.MarkFlagRequired("destination")
	_ = evaluateCmd.MarkFlagRequired("month")

	return evaluateCmd
}
