package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// CLI 把 Migrator 的结果格式化输出到终端
type CLI struct {
	migrator Migrator
	out      io.Writer
}

func NewCLI(m Migrator) *CLI {
	return &CLI{migrator: m, out: os.Stdout}
}

// SetOutput 替换输出目标，默认 os.Stdout
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

// Run 执行子命令：up, down, reset, steps <n>, goto <v>, force <v>, version, status, info
func (c *CLI) Run(ctx context.Context, sub string, args []string) error {
	switch sub {
	case "up":
		return c.move(ctx, "Applying pending migrations", c.migrator.Up)
	case "down":
		return c.move(ctx, "Rolling back one migration", c.migrator.Down)
	case "reset":
		return c.move(ctx, "Rolling back all migrations", c.migrator.Reset)
	case "steps":
		n, err := numArg(args)
		if err != nil {
			return err
		}
		return c.move(ctx, fmt.Sprintf("Moving %+d step(s)", n), func(ctx context.Context) error {
			return c.migrator.Steps(ctx, int(n))
		})
	case "goto":
		n, err := numArg(args)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("version must not be negative: %d", n)
		}
		return c.move(ctx, fmt.Sprintf("Migrating to version %d", n), func(ctx context.Context) error {
			return c.migrator.Goto(ctx, uint(n))
		})
	case "force":
		n, err := numArg(args)
		if err != nil {
			return err
		}
		if err := c.migrator.Force(ctx, int(n)); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Version forced to %d\n", n)
		return nil
	case "version":
		return c.version(ctx)
	case "status":
		return c.status(ctx)
	case "info":
		return c.info(ctx)
	default:
		return fmt.Errorf("unknown migrate subcommand: %s", sub)
	}
}

func numArg(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("missing numeric argument")
	}
	n, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", args[0], err)
	}
	return n, nil
}

// move 执行会改变版本的操作，完成后打印当前版本
func (c *CLI) move(ctx context.Context, banner string, fn func(context.Context) error) error {
	fmt.Fprintln(c.out, banner+"...")
	if err := fn(ctx); err != nil {
		return err
	}
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Done. Current version: %d%s\n", version, dirtyMark(dirty))
	return nil
}

func (c *CLI) version(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(c.out, "No migrations applied yet.")
		return nil
	}
	fmt.Fprintf(c.out, "Current version: %d%s\n", version, dirtyMark(dirty))
	return nil
}

func (c *CLI) status(ctx context.Context) error {
	plan, err := c.migrator.Plan(ctx)
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
	applied := 0
	for _, step := range plan {
		state := "pending"
		switch {
		case step.Dirty:
			state = "dirty"
		case step.Applied:
			state = "applied"
		}
		if step.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", step.Version, step.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\nTotal: %d, Applied: %d, Pending: %d\n", len(plan), applied, len(plan)-applied)
	return nil
}

func (c *CLI) info(ctx context.Context) error {
	sum, err := c.migrator.Summarize(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "Current version:\t%d\n", sum.Current)
	fmt.Fprintf(w, "Dirty:\t%v\n", sum.Dirty)
	fmt.Fprintf(w, "Applied:\t%d/%d\n", sum.Applied, sum.Total)
	fmt.Fprintf(w, "Pending:\t%d\n", sum.Pending)
	return w.Flush()
}

func dirtyMark(dirty bool) string {
	if dirty {
		return " (dirty)"
	}
	return ""
}
