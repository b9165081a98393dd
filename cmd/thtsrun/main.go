// thtsrun runs one search algorithm against one of the built-in environments
// and reports the recommendation, the root statistics and a Monte-Carlo
// evaluation of the resulting policy.
//
// Example:
//
//	thtsrun -env grid -alg uct -trials 2000 -config "bias=1.0,max_depth=12"
//	thtsrun -env sailing -alg czt -trials 10000 -workers 8
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/trialsearch/go-thts/internal/algorithms/chmcts"
	"github.com/trialsearch/go-thts/internal/algorithms/czt"
	"github.com/trialsearch/go-thts/internal/algorithms/ments"
	"github.com/trialsearch/go-thts/internal/algorithms/smt"
	"github.com/trialsearch/go-thts/internal/algorithms/uct"
	"github.com/trialsearch/go-thts/internal/envs/grid"
	"github.com/trialsearch/go-thts/internal/envs/sailing"
	"github.com/trialsearch/go-thts/internal/parameters"
	"github.com/trialsearch/go-thts/internal/thts"
	"github.com/trialsearch/go-thts/internal/thtsrand"
)

var (
	flagEnv      = flag.String("env", "grid", "Environment to search: grid, grid_stochastic, grid_mo or sailing.")
	flagAlg      = flag.String("alg", "uct", "Algorithm: uct, hmcts, ments, dents, rents, tents, dbments, czt, chmcts, smbts or smdents.")
	flagTrials   = flag.Int("trials", 2000, "Number of trials to run.")
	flagWorkers  = flag.Int("workers", 4, "Number of concurrent workers.")
	flagGridSize = flag.Int("grid_size", 4, "Grid size for the grid environments.")
	flagConfig   = flag.String("config", "", "Comma-separated key=value algorithm and manager options.")
	flagRollouts = flag.Int("eval_rollouts", 200, "Monte-Carlo rollouts to evaluate the recommend policy; 0 disables.")
	flagCSV      = flag.String("csv", "", "Write logger rows as CSV to this file.")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(22)
	valueStyle  = lipgloss.NewStyle().Bold(true)
)

func printRow(label string, format string, args ...any) {
	fmt.Println(labelStyle.Render(label) + valueStyle.Render(fmt.Sprintf(format, args...)))
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	params := parameters.NewFromConfigString(*flagConfig)
	delete(params, "")

	switch *flagEnv {
	case "grid":
		run(grid.NewEnv(*flagGridSize), params)
	case "grid_stochastic":
		run(grid.NewStochasticEnv(*flagGridSize, 0.25), params)
	case "grid_mo":
		run(grid.NewMOEnv(*flagGridSize), params)
	case "sailing":
		run(sailing.NewEnv(6, 6, sailing.NN), params)
	default:
		must.M(errors.Errorf("unknown environment %q", *flagEnv))
	}
}

func run[S, A comparable](env thts.Env[S, A], params parameters.Params) {
	opts := must.M1(thts.OptionsFromParams(params))
	mgr := must.M1(thts.NewManager(env, opts))
	buildAlgorithm(mgr, params)
	for key := range params {
		must.M(errors.Errorf("unrecognised option %q", key))
	}

	root := must.M1(mgr.NewRoot())
	var logger *thts.Logger[S, A]
	if *flagCSV != "" {
		logger = thts.NewLogger[S, A](int64(max(*flagTrials/100, 1)), 0, nil)
	}
	pool := thts.NewPool(mgr, root, *flagWorkers, logger)

	start := time.Now()
	must.M(pool.Run(context.Background(), *flagTrials))
	elapsed := time.Since(start)

	rng := thtsrand.New(opts.Seed, 1<<20)
	action := must.M1(pool.Recommend(rng))

	fmt.Println(headerStyle.Render(fmt.Sprintf("%s on %s", mgr.Alg.Name(), *flagEnv)))
	printRow("trials", "%d", pool.TrialsCompleted())
	printRow("workers", "%d", *flagWorkers)
	printRow("runtime", "%s", elapsed.Round(time.Millisecond))
	printRow("trials/sec", "%.0f", float64(pool.TrialsCompleted())/elapsed.Seconds())
	printRow("root visits", "%d", root.NumVisits())
	printRow("recommended action", "%v", action)

	if *flagRollouts > 0 {
		eval := must.M1(thts.EvaluatePolicy(mgr, root, *flagRollouts, *flagWorkers))
		printRow("eval avg return", "%v", eval.AvgReturn)
		printRow("eval scalarised", "%.3f", eval.AvgScalarised)
	}

	if *flagCSV != "" {
		f := must.M1(os.Create(*flagCSV))
		defer func() { must.M(f.Close()) }()
		must.M(logger.WriteCSV(f))
	}
}

// buildAlgorithm attaches the algorithm named by -alg to the manager,
// consuming its options from params.
func buildAlgorithm[S, A comparable](mgr *thts.Manager[S, A], params parameters.Params) {
	switch *flagAlg {
	case "uct":
		must.M1(uct.NewFromParams(mgr, params))
	case "hmcts":
		params["seq_halving"] = "true"
		if _, ok := params["total_budget"]; !ok {
			params["total_budget"] = fmt.Sprintf("%d", *flagTrials)
		}
		must.M1(uct.NewFromParams(mgr, params))
	case "ments", "dents", "rents", "tents", "dbments":
		params["variant"] = *flagAlg
		must.M1(ments.NewFromParams(mgr, params))
	case "czt":
		must.M1(czt.NewFromParams(mgr, params))
	case "chmcts":
		must.M1(chmcts.NewFromParams(mgr, params))
	case "smbts", "smdents":
		params["variant"] = *flagAlg
		must.M1(smt.NewFromParams(mgr, params))
	default:
		must.M(errors.Errorf("unknown algorithm %q", *flagAlg))
	}
}
