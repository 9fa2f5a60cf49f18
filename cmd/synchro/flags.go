package main

import (
	"github.com/spf13/pflag"

	"github.com/banshee-data/synchro/internal/config"
)

// addOverrideFlags registers the flags that override configuration fields.
// Only flags set on the command line take effect.
func addOverrideFlags(fs *pflag.FlagSet) {
	fs.String("scenario", "highway", "Scenario to build")
	fs.IntP("participants", "n", 3, "Number of participants (ranks)")
	fs.Float64("heartbeat", 1e-2, "Simulation time per tick (s)")
	fs.Float64("end-time", 20, "Simulation time to run for (s), 0 for no limit")
	fs.String("wall-budget", "", "Wall-clock budget, e.g. 30s")
	fs.String("stale-policy", "abort", "What to do when a participant misses an exchange: abort or use-stale")
	fs.Int("max-stale-ticks", 10, "Consecutive missed ticks tolerated under use-stale")
	fs.Float64("switch-at", 6, "Time (s) at which rank 0 changes lane, negative to disable")
	fs.String("db", "", "Record runs into this sqlite database")
	fs.Int("record-every", 1, "Record every Nth tick")
	fs.String("report-dir", "", "Write PNG and HTML reports into this directory")
}

// overrides collects the changed override flags into a RunConfig.
func overrides(fs *pflag.FlagSet) (*config.RunConfig, error) {
	o := config.EmptyRunConfig()
	var err error
	str := func(name string, dst **string) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var v string
		if v, err = fs.GetString(name); err == nil {
			*dst = &v
		}
	}
	num := func(name string, dst **float64) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var v float64
		if v, err = fs.GetFloat64(name); err == nil {
			*dst = &v
		}
	}
	integer := func(name string, dst **int) {
		if err != nil || !fs.Changed(name) {
			return
		}
		var v int
		if v, err = fs.GetInt(name); err == nil {
			*dst = &v
		}
	}

	str("scenario", &o.Scenario)
	integer("participants", &o.Participants)
	num("heartbeat", &o.Heartbeat)
	num("end-time", &o.EndTime)
	str("wall-budget", &o.WallBudget)
	str("stale-policy", &o.StalePolicy)
	integer("max-stale-ticks", &o.MaxStaleTicks)
	num("switch-at", &o.SwitchAt)
	str("db", &o.Database)
	integer("record-every", &o.RecordEvery)
	str("report-dir", &o.ReportDir)
	if err != nil {
		return nil, err
	}
	return o, nil
}
