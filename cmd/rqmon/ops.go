package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/UniQw/rqmon"
	"github.com/UniQw/rqmon/internal/keys"
	"github.com/UniQw/rqmon/internal/lifecycle"
	"github.com/spf13/cobra"
)

// storeContext selects the instance named by --instance.
func (a *app) storeContext(cmd *cobra.Command) (context.Context, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	n, _ := cmd.Flags().GetInt("instance")
	return a.instances.Use(ctx, n)
}

func withInstance(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().Int("instance", 0, "Store instance number (order of --redis-url)")
	return cmd
}

func (a *app) queuesCommand() *cobra.Command {
	return withInstance(&cobra.Command{
		Use:   "queues",
		Short: "List queues with their waiting counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.storeContext(cmd)
			if err != nil {
				return err
			}
			qs, err := a.client.ListQueues(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUE\tWAITING")
			for _, q := range qs {
				fmt.Fprintf(tw, "%s\t%d\n", q.Name, q.Count)
			}
			return tw.Flush()
		},
	})
}

func (a *app) workersCommand() *cobra.Command {
	return withInstance(&cobra.Command{
		Use:   "workers",
		Short: "List registered workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.storeContext(cmd)
			if err != nil {
				return err
			}
			ws, err := a.client.ListWorkers(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tHOST\tPID\tSTATE\tQUEUES\tCURRENT\tOK\tFAILED")
			for _, w := range ws {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%v\t%s\t%d\t%d\n",
					w.Name, w.Hostname, w.PID, w.State, w.Queues, w.CurrentJobID, w.SuccessCount, w.FailedCount)
			}
			return tw.Flush()
		},
	})
}

func (a *app) stopWorkerCommand() *cobra.Command {
	cmd := withInstance(&cobra.Command{
		Use:   "stop-worker [worker...]",
		Short: "Ask workers to stop gracefully (SIGINT, over SSH for remote hosts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.storeContext(cmd)
			if err != nil {
				return err
			}
			all, _ := cmd.Flags().GetBool("all")
			var res rqmon.BulkResult
			switch {
			case all:
				if res, err = a.ctl.RequestStopAll(ctx); err != nil {
					return err
				}
			case len(args) > 0:
				res = a.ctl.RequestStopMany(ctx, args)
			default:
				return fmt.Errorf("%w: name at least one worker or pass --all", rqmon.ErrInvalidRequest)
			}
			fmt.Printf("stop requested: %d, failed: %d\n", res.Applied, res.FailureCount())
			for _, f := range res.Failures {
				fmt.Printf("  %s: %v\n", f.Item, f.Err)
			}
			return res.Err("stop-worker")
		},
	})
	cmd.Flags().Bool("all", false, "Stop every registered worker")
	return cmd
}

func (a *app) memoryCommand() *cobra.Command {
	cmd := withInstance(&cobra.Command{
		Use:   "memory",
		Short: "Sum the memory used by matching keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.storeContext(cmd)
			if err != nil {
				return err
			}
			pattern, _ := cmd.Flags().GetString("pattern")
			n, err := a.client.StoreMemoryUsage(ctx, pattern)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d bytes\n", pattern, n)
			return nil
		},
	})
	cmd.Flags().String("pattern", rqmon.DefaultMemoryPattern, "Key pattern to scan")
	return cmd
}

// seedCommand fills a queue with jobs in every state, for trying the API against a
// scratch store.
func (a *app) seedCommand() *cobra.Command {
	cmd := withInstance(&cobra.Command{
		Use:   "seed",
		Short: "Populate a queue with sample jobs in every registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.storeContext(cmd)
			if err != nil {
				return err
			}
			queue, _ := cmd.Flags().GetString("queue")
			count, _ := cmd.Flags().GetInt("count")
			if count < 5 {
				return fmt.Errorf("%w: --count must be at least 5", rqmon.ErrInvalidRequest)
			}
			n, _ := cmd.Flags().GetInt("instance")
			return a.seed(ctx, n, queue, count)
		},
	})
	cmd.Flags().String("queue", "default", "Queue to populate")
	cmd.Flags().Int("count", 20, "Number of jobs to enqueue")
	return cmd
}

func (a *app) seed(ctx context.Context, instance int, queue string, count int) error {
	rdb, err := a.instances.Get(instance)
	if err != nil {
		return err
	}
	now := time.Now()
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, err := a.client.Enqueue(ctx, queue, "example.tasks.add", []int{i, i + 1}, map[string]any{"seed": true},
			rqmon.Description(fmt.Sprintf("example.tasks.add(%d, %d)", i, i+1)),
			rqmon.ResultTTL(time.Hour),
		)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	q := keys.For(queue)
	started, err := lifecycle.Start(ctx, rdb, q, now, 3*time.Minute)
	if err != nil {
		return err
	}
	finished, err := lifecycle.Start(ctx, rdb, q, now, 3*time.Minute)
	if err != nil {
		return err
	}
	if err := lifecycle.Finish(ctx, rdb, q, finished, now, time.Hour); err != nil {
		return err
	}
	failed, err := lifecycle.Start(ctx, rdb, q, now, 3*time.Minute)
	if err != nil {
		return err
	}
	if err := lifecycle.Fail(ctx, rdb, q, failed, now, 24*time.Hour, "Traceback (most recent call last):\nZeroDivisionError: division by zero"); err != nil {
		return err
	}
	if err := lifecycle.Schedule(ctx, rdb, q, ids[len(ids)-1], now.Add(time.Hour)); err != nil {
		return err
	}
	if err := lifecycle.Defer(ctx, rdb, q, ids[len(ids)-2], failed, now); err != nil {
		return err
	}

	host, _ := os.Hostname()
	name := fmt.Sprintf("%s.%d", host, os.Getpid())
	if err := lifecycle.Register(ctx, rdb, lifecycle.Registration{
		Name: name, Hostname: host, PID: os.Getpid(), Queues: []string{queue}, TTL: 10 * time.Minute,
	}, now); err != nil {
		return err
	}
	if err := lifecycle.Heartbeat(ctx, rdb, name, "busy", started, now, 10*time.Minute); err != nil {
		return err
	}
	a.log.Infof("seed: queue=%s enqueued=%d started=%s finished=%s failed=%s worker=%s",
		queue, count, started, finished, failed, name)
	return nil
}
