package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/feedpilot/feedpilot/internal/config"
	"github.com/feedpilot/feedpilot/internal/device/adb"
	"github.com/feedpilot/feedpilot/internal/doctor"
	"github.com/feedpilot/feedpilot/internal/session"
)

func newDoctorCommand(cli *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the device, browser, model key and export paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := cli.cfg
			var probe doctor.DeviceProbe
			if cfg.Target == config.TargetADB {
				executor, err := adb.New(adb.Options{
					Path:    cfg.Device.ADBPath,
					Serial:  cfg.Device.Serial,
					Package: cfg.Device.Package,
					Logger:  cli.logger,
				})
				if err != nil {
					return err
				}
				probe = executor
			}

			manager, err := doctor.NewManager(doctor.Config{
				Target:      string(cfg.Target),
				ADBPath:     cfg.Device.ADBPath,
				Serial:      cfg.Device.Serial,
				BrowserBin:  cfg.Browser.Bin,
				LLMProvider: cfg.LLM.Provider,
				NeedsLLM:    cfg.Session.Strategy == session.StrategyContentDriven || cfg.LLM.Vision,
				ExportDir:   cfg.Export.Dir,
				SQLitePath:  cfg.SQLitePath(),
			}, probe, nil)
			if err != nil {
				return err
			}
			report, err := manager.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			cli.logger.Info("doctor finished", "failed", report.Failed(), "checks", len(report.Checks))
			if err := report.Write(cmd.OutOrStdout()); err != nil {
				return err
			}
			if report.Failed() {
				return errors.New("doctor found failing checks")
			}
			return nil
		},
	}
}
