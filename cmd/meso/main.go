/*
Copyright © 2018 the Meso authors.
This file is part of Meso.

Meso is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Meso is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Meso.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command meso drives the distributed atmospheric domain core: it loads
// the configuration, starts one goroutine per image, and sequences
// initialization, forcing ingestion and halo exchanges. The physical
// parameterizations and the multi-component integration loop are
// external and not part of this driver.
package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spatialmodel/meso"
	"github.com/spatialmodel/meso/comm"
)

const dateFormat = "20060102"

func main() {
	if err := root().Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func root() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "meso",
		Short: "meso manages a distributed regional atmospheric simulation domain",
	}
	run := &cobra.Command{
		Use:   "run",
		Short: "run the forcing-driven domain simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := meso.LoadConfig(configFile)
			if err != nil {
				return err
			}
			return runImages(cfg)
		},
	}
	run.Flags().StringVar(&configFile, "config", "meso.toml", "configuration file location")
	cmd.AddCommand(run)
	return cmd
}

// runImages drives one goroutine per image through initialization and
// the forcing-step / sub-step loop.
func runImages(cfg *meso.Config) error {
	vars, err := meso.ParseVars(cfg.RequestedVars)
	if err != nil {
		return err
	}
	start, err := time.Parse(dateFormat, cfg.StartDate)
	if err != nil {
		return fmt.Errorf("meso: parsing start date: %v", err)
	}
	end, err := time.Parse(dateFormat, cfg.EndDate)
	if err != nil {
		return fmt.Errorf("meso: parsing end date: %v", err)
	}
	forcingDelta, err := time.ParseDuration(cfg.ForcingInterval)
	if err != nil {
		return fmt.Errorf("meso: parsing forcing interval: %v", err)
	}
	fileDelta, err := time.ParseDuration(cfg.FileInterval)
	if err != nil {
		return fmt.Errorf("meso: parsing file interval: %v", err)
	}
	substep, err := time.ParseDuration(cfg.SubstepInterval)
	if err != nil {
		return fmt.Errorf("meso: parsing sub-step interval: %v", err)
	}

	n := cfg.Ximages * cfg.Yimages
	group := comm.NewGroup(n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for id := 0; id < n; id++ {
		go func(id int) {
			defer wg.Done()
			errs[id] = runImage(cfg, vars, group.Rank(id), start, end, forcingDelta, fileDelta, substep)
		}(id)
	}
	wg.Wait()
	for id, err := range errs {
		if err != nil {
			return fmt.Errorf("meso: image %d: %v", id, err)
		}
	}
	return nil
}

func runImage(cfg *meso.Config, vars meso.Vars, rank *comm.Rank,
	start, end time.Time, forcingDelta, fileDelta, substep time.Duration) error {

	rdr, err := meso.OpenNCF(cfg.InitFile)
	if err != nil {
		return err
	}
	d, err := meso.NewDomain(cfg, vars, rank, rdr)
	rdr.Close()
	if err != nil {
		return err
	}

	next := meso.NextForcingNCF(cfg.ForcingFile,
		meso.ForcingCoords{
			Lon: cfg.ForcingVars.Lon,
			Lat: cfg.ForcingVars.Lat,
			Z:   cfg.ForcingVars.Height,
		},
		d.Registry().Names(), start, end, forcingDelta, fileDelta)

	f, err := next()
	if err != nil {
		return fmt.Errorf("reading first forcing step: %v", err)
	}
	ip, err := meso.NewInterpolator(d, f)
	if err != nil {
		return err
	}
	if err := ip.InitialConditions(f); err != nil {
		return err
	}
	d.HaloExchange()
	d.CheckMoisture()

	log := logrus.WithField("image", rank.ID())
	log.WithField("time", f.Time).Info("initial conditions ready")

	substeps := int(forcingDelta / substep)
	for {
		f, err = next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := ip.UpdateDeltaFields(f, forcingDelta); err != nil {
			return err
		}
		for s := 0; s < substeps; s++ {
			d.ApplyForcing(substep)
			d.HaloExchange()
			d.CheckMoisture()
		}
		log.WithField("time", f.Time).Info("forcing step applied")
	}
}
