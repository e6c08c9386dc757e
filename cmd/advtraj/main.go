/*
Copyright © 2019 the AdvTraj authors.
This file is part of AdvTraj.

AdvTraj is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AdvTraj is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AdvTraj.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command advtraj computes Lagrangian trajectories and cloud-object
// lineages from MONC model output.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/cloudphys/advtraj"
	"github.com/cloudphys/advtraj/cloud"
	"github.com/cloudphys/advtraj/monc"
)

// config holds the contents of the TOML configuration file.
type config struct {
	// Files is a glob matching the MONC NetCDF output files to process.
	Files string

	// FirstRefTime and LastRefTime bound the reference times (model
	// seconds); one trajectory set is computed per snapshot time between
	// them.
	FirstRefTime float64
	LastRefTime  float64

	// BackLen and ForwardLen are the model-time spans to integrate
	// backward and forward from each reference time.
	BackLen    float64
	ForwardLen float64

	// CloudThreshold is the cloud liquid water content (kg/kg) above
	// which a grid cell counts as cloudy.
	CloudThreshold float64

	// Variables are the model fields to interpolate to trajectory
	// points. The cloud liquid water field is always included.
	Variables []string

	// Interpolation selects the field interpolation scheme: "linear"
	// (default) or "spline".
	Interpolation string
	// SplineOrder is the order of the "spline" scheme.
	SplineOrder int

	// RefTheta, if given, is the reference potential temperature profile
	// (one value per model level) added to the perturbation field "th".
	RefTheta []float64

	// OverlapThreshold is the minimum fractional cell overlap for two
	// objects at different reference times to be considered the same.
	OverlapThreshold float64

	// MasterRef selects the reference time index whose objects anchor
	// the lineage analysis; -1 means the last one.
	MasterRef int

	// Debug enables verbose diagnostic logging.
	Debug bool
}

func defaultConfig() config {
	return config{
		CloudThreshold:   cloud.DefaultThreshold,
		Variables:        []string{"u", "v", "w", "th", "p", "q_vapour", "q_cloud_liquid_mass"},
		Interpolation:    "linear",
		SplineOrder:      3,
		OverlapThreshold: advtraj.DefaultOverlapThresh,
		MasterRef:        -1,
	}
}

var configFile string

var root = &cobra.Command{
	Use:   "advtraj",
	Short: "Lagrangian trajectory analysis of cloud-resolving model output.",
	Long: `advtraj reconstructs Lagrangian parcel trajectories from the
phase-encoded position tracers in MONC model output, identifies cloud
objects at a sequence of reference times, and links them into lineages.
Configuration is read from a TOML file given with the --config flag.`,
	DisableAutoGenTag: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("AdvTraj v%s\n", advtraj.Version)
	},
	DisableAutoGenTag: true,
}

var familyCmd = &cobra.Command{
	Use:   "family",
	Short: "Compute a family of trajectory sets and link its cloud objects",
	Long: `family computes one set of back and forward trajectories per
reference time between FirstRefTime and LastRefTime, then matches cloud
objects between reference times and assembles super-objects from the
resulting links.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		f, fs, err := computeFamily(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d files.\n", len(fs.Files))
		fmt.Print(f)

		masterRef := cfg.MasterRef
		if masterRef < 0 {
			masterRef = len(f.Sets) - 1
		}
		if masterRef > 0 {
			fmt.Print(f.MatchingSummary(masterRef, nil, cfg.OverlapThreshold))
		}

		chains, lengths := f.SuperObjects(masterRef, cfg.OverlapThreshold)
		fmt.Printf("Super-objects: %d\n", len(chains))
		for i, chain := range chains {
			fmt.Printf("  %d (length %d):", i, lengths[i])
			for _, l := range chain {
				fmt.Printf(" ref %d obj %d (%d%%);", l.RefIndex, l.Object, l.Overlap)
			}
			fmt.Println()
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var trajCmd = &cobra.Command{
	Use:   "traj",
	Short: "Compute a single trajectory set at FirstRefTime",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		fs, err := fileSet(cfg)
		if err != nil {
			return err
		}
		interp, err := interpConfig(cfg)
		if err != nil {
			return err
		}
		tr, err := advtraj.ComputeTrajectories(fs, advtraj.TrajectoryConfig{
			StartTime: cfg.FirstRefTime - cfg.BackLen,
			RefTime:   cfg.FirstRefTime,
			EndTime:   cfg.FirstRefTime + cfg.ForwardLen,
			Variables: variables(cfg),
			Interp:    interp,
			Debug:     cfg.Debug,
		}, cloud.RefPoints(cfg.CloudThreshold), cloud.InObject(cfg.CloudThreshold))
		if err != nil {
			return err
		}
		fmt.Println(tr)
		return nil
	},
	DisableAutoGenTag: true,
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, fmt.Errorf("advtraj: no configuration file; use the --config flag")
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("advtraj: reading configuration file: %v", err)
	}
	if cfg.Files == "" {
		return cfg, fmt.Errorf("advtraj: configuration field Files must be set")
	}
	return cfg, nil
}

func fileSet(cfg config) (*monc.FileSet, error) {
	files, err := filepath.Glob(cfg.Files)
	if err != nil {
		return nil, fmt.Errorf("advtraj: bad file pattern %q: %v", cfg.Files, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("advtraj: no files match %q", cfg.Files)
	}
	fs := monc.NewFileSet(files)
	fs.RefTheta = cfg.RefTheta
	return fs, nil
}

func interpConfig(cfg config) (advtraj.InterpConfig, error) {
	switch cfg.Interpolation {
	case "", "linear":
		return advtraj.InterpConfig{Policy: advtraj.TriLinear}, nil
	case "spline":
		return advtraj.InterpConfig{Policy: advtraj.Spline, Order: cfg.SplineOrder}, nil
	}
	return advtraj.InterpConfig{}, fmt.Errorf("advtraj: unknown interpolation scheme %q", cfg.Interpolation)
}

// variables ensures the cloud field is always interpolated, since the
// object predicate needs it.
func variables(cfg config) []string {
	for _, v := range cfg.Variables {
		if v == cloud.Variable {
			return cfg.Variables
		}
	}
	return append(append([]string{}, cfg.Variables...), cloud.Variable)
}

func computeFamily(cfg config) (*advtraj.Family, *monc.FileSet, error) {
	fs, err := fileSet(cfg)
	if err != nil {
		return nil, nil, err
	}
	interp, err := interpConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	f, err := advtraj.NewFamily(fs, advtraj.FamilyConfig{
		FirstRefTime: cfg.FirstRefTime,
		LastRefTime:  cfg.LastRefTime,
		BackLen:      cfg.BackLen,
		ForwardLen:   cfg.ForwardLen,
		Variables:    variables(cfg),
		Interp:       interp,
		Debug:        cfg.Debug,
	}, cloud.RefPoints(cfg.CloudThreshold), cloud.InObject(cfg.CloudThreshold))
	if err != nil {
		return nil, nil, err
	}
	return f, fs, nil
}

func main() {
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to the TOML configuration file")
	root.AddCommand(versionCmd, familyCmd, trajCmd)
	if err := root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
