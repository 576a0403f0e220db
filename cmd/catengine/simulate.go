package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"text/tabwriter"
	"time"

	"github.com/mohammad-safakhou/catengine/engine"
	"github.com/mohammad-safakhou/catengine/internal/irt"
	"github.com/mohammad-safakhou/catengine/models"
	"github.com/spf13/cobra"
)

var simTopics = []string{"algebra", "geometry", "statistics", "number"}

func simulateCMD(cfgPath *string) *cobra.Command {
	var (
		examinees int
		synthetic int
		seed      int64
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run simulated examinees through the engine and report estimation error",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.log.Sync()
			ctx := cmd.Context()
			rng := rand.New(rand.NewSource(seed))

			var bank []models.Item
			if synthetic > 0 {
				bank = syntheticBank(synthetic, rng)
			} else {
				st, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				bank, err = st.ListItems(ctx)
				_ = st.Close()
				if err != nil {
					return err
				}
			}
			if len(bank) == 0 {
				return fmt.Errorf("item bank is empty; pass --synthetic N to generate one")
			}

			eng, err := a.simulationEngine(ctx, rng)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "examinee\ttrue_theta\testimate\tse\titems")
			sq := 0.0
			for i := 0; i < examinees; i++ {
				trueTheta := irt.ClipTheta(rng.NormFloat64())
				answer := func(it models.Item) bool {
					return rng.Float64() < irt.Probability(trueTheta, it.A, it.B, it.C)
				}
				sum, err := simulateExaminee(ctx, eng, fmt.Sprintf("sim-%d", i), bank, answer)
				if err != nil {
					return err
				}
				se := math.NaN()
				if sum.SE != nil {
					se = *sum.SE
				}
				sq += (sum.Theta - trueTheta) * (sum.Theta - trueTheta)
				fmt.Fprintf(tw, "%d\t%.3f\t%.3f\t%.3f\t%d\n", i, trueTheta, sum.Theta, se, sum.Answered)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if examinees > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "rmse: %.4f\n", math.Sqrt(sq/float64(examinees)))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&examinees, "examinees", 10, "number of simulated examinees")
	cmd.Flags().IntVar(&synthetic, "synthetic", 0, "generate a bank of N items instead of reading the item bank")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	return cmd
}

// simulationEngine builds an engine on the configured session backend. Time
// limits are dropped since simulated answers arrive instantly.
func (a *app) simulationEngine(ctx context.Context, rng *rand.Rand) (*engine.Engine, error) {
	sessions, err := a.sessions(ctx)
	if err != nil {
		return nil, err
	}
	cfg := a.engineConfig()
	cfg.Stop.TimeLimit = nil
	return engine.New(cfg, engine.Deps{
		Sessions: sessions,
		Policies: a.resolver(nil),
		Metrics:  a.telemetry(),
		Logger:   a.log,
		Rand:     rng,
	})
}

// simulateExaminee runs one session to completion. answer decides the
// correctness of each presented item.
func simulateExaminee(ctx context.Context, eng *engine.Engine, userID string, bank []models.Item, answer func(models.Item) bool) (engine.Summary, error) {
	sess, err := eng.Start(ctx, engine.StartRequest{UserID: userID, ExamID: "simulation"})
	if err != nil {
		return engine.Summary{}, err
	}
	for {
		item, err := eng.Next(ctx, sess.ID, bank)
		if errors.Is(err, models.ErrNoItemAvailable) {
			break
		}
		if err != nil {
			return engine.Summary{}, err
		}
		res, err := eng.Answer(ctx, sess.ID, *item, answer(*item))
		if err != nil {
			return engine.Summary{}, err
		}
		if res.Stop {
			break
		}
	}
	return eng.Finish(ctx, sess.ID)
}

func syntheticBank(n int, rng *rand.Rand) []models.Item {
	items := make([]models.Item, n)
	for i := range items {
		items[i] = models.Item{
			ID:    models.IntItemID(int64(i + 1)),
			A:     0.8 + 1.2*rng.Float64(),
			B:     math.Max(-3, math.Min(3, rng.NormFloat64())),
			C:     0.2 * rng.Float64(),
			Topic: simTopics[i%len(simTopics)],
		}
	}
	return items
}
