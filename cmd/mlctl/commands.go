package main

import (
	"context"

	"github.com/spf13/cobra"

	"telemetry-ml/internal/service"
)

func newTrainAnomalyCmd(a *cliApp) *cobra.Command {
	var (
		hours         int
		contamination float64
	)
	cmd := &cobra.Command{
		Use:   "train-anomaly DEVICE_ID",
		Short: "Train the anomaly model of a device",
		Args:  cobra.ExactArgs(1),
		Example: `  # Train on the default window
  mlctl train-anomaly dev-42

  # Train on the last 3 days, expecting 2% outliers
  mlctl train-anomaly dev-42 --hours 72 --contamination 0.02`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.TrainAnomaly(ctx, service.TrainAnomalyRequest{
					DeviceID:      args[0],
					Hours:         hours,
					Contamination: contamination,
				})
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "Training window in hours (0 = configured default)")
	cmd.Flags().Float64Var(&contamination, "contamination", 0, "Expected outlier fraction (0 = configured default)")
	return cmd
}

func newDetectCmd(a *cliApp) *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "detect DEVICE_ID",
		Short: "Report anomalies in recent telemetry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.DetectAnomalies(ctx, service.DetectRequest{DeviceID: args[0], Hours: hours})
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "Detection window in hours (0 = configured default)")
	return cmd
}

func newTrainForecastCmd(a *cliApp) *cobra.Command {
	var (
		field string
		hours int
	)
	cmd := &cobra.Command{
		Use:   "train-forecast DEVICE_ID",
		Short: "Train the forecast model of one metric",
		Args:  cobra.ExactArgs(1),
		Example: `  mlctl train-forecast dev-42 --field system.temperature --hours 336`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.TrainForecast(ctx, service.TrainForecastRequest{
					DeviceID: args[0],
					Field:    field,
					Hours:    hours,
				})
			})
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "Dotted metric path (empty = configured default)")
	cmd.Flags().IntVar(&hours, "hours", 0, "Training window in hours (0 = configured default)")
	return cmd
}

func newPredictForecastCmd(a *cliApp) *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:     "predict-forecast DEVICE_ID",
		Short:   "Forecast the next horizon of one metric",
		Aliases: []string{"predict"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.PredictForecast(ctx, service.PredictForecastRequest{DeviceID: args[0], Field: field})
			})
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "Dotted metric path (empty = configured default)")
	return cmd
}

func newModelInfoCmd(a *cliApp) *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:     "model-info DEVICE_ID",
		Short:   "Show persisted model metadata",
		Aliases: []string{"info"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.ModelInfo(ctx, service.ModelInfoRequest{DeviceID: args[0], Field: field})
			})
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "Forecast metric path; empty selects the anomaly model")
	return cmd
}
