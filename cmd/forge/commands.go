package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ChamsBouzaiene/forge/internal/agent"
)

func (c *RunCmd) Run(ctx context.Context, g *Globals) error {
	env, err := prepareRuntimeEnv(g)
	if err != nil {
		return err
	}
	defer env.Close()

	a, err := env.buildAgent(ctx)
	if err != nil {
		return err
	}
	task, err := a.Submit(ctx, strings.Join(c.Task, " "))
	if err != nil {
		return err
	}
	fmt.Println(task.Summary())
	if task.Status != agent.Completed {
		return errTaskFailed
	}
	return nil
}

func (c *ReplCmd) Run(ctx context.Context, g *Globals) error {
	env, err := prepareRuntimeEnv(g)
	if err != nil {
		return err
	}
	defer env.Close()

	a, err := env.buildAgent(ctx)
	if err != nil {
		return err
	}
	return repl(ctx, a, os.Stdin, os.Stdout)
}

// repl submits each non-empty line as a task until EOF or cancellation.
func repl(ctx context.Context, a *agent.Agent, in io.Reader, out io.Writer) error {
	s := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !s.Scan() {
			break
		}
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		task, err := a.Submit(ctx, line)
		if err != nil {
			log.Printf("error: %v", err)
			continue
		}
		fmt.Fprintln(out, task.Summary())
		fmt.Fprintln(out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return s.Err()
}

func (c *CacheStatsCmd) Run(ctx context.Context, g *Globals) error {
	env, err := prepareRuntimeEnv(g)
	if err != nil {
		return err
	}
	defer env.Close()

	cc, err := env.openCache(ctx)
	if err != nil {
		return err
	}
	st, err := cc.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("entries:    %d / %d\n", st.Entries, st.MaxEntries)
	fmt.Printf("total uses: %d\n", st.TotalUses)
	fmt.Printf("pinned:     %d\n", st.Pinned)
	fmt.Printf("saved:      $%.4f\n", st.SavedUSD)
	return nil
}

func (c *CacheClearCmd) Run(ctx context.Context, g *Globals) error {
	env, err := prepareRuntimeEnv(g)
	if err != nil {
		return err
	}
	defer env.Close()

	cc, err := env.openCache(ctx)
	if err != nil {
		return err
	}
	n, err := cc.Clear(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d cached chain(s)\n", n)
	return nil
}

func (c *MemorySearchCmd) Run(ctx context.Context, g *Globals) error {
	env, err := prepareRuntimeEnv(g)
	if err != nil {
		return err
	}
	defer env.Close()

	mem, err := env.openMemory(ctx)
	if err != nil {
		return err
	}
	eps, err := mem.SearchEpisodes(ctx, strings.Join(c.Query, " "), c.Limit)
	if err != nil {
		return err
	}
	if len(eps) == 0 {
		fmt.Println("no matching episodes")
		return nil
	}
	for _, ep := range eps {
		fmt.Printf("%s  %-8s %s\n", ep.Time.Format("2006-01-02 15:04"), ep.Outcome, ep.Description)
		if len(ep.ToolChain) > 0 {
			fmt.Printf("    tools: %s\n", strings.Join(ep.ToolChain, " -> "))
		}
		if len(ep.FilesModified) > 0 {
			fmt.Printf("    files: %s\n", strings.Join(ep.FilesModified, ", "))
		}
	}
	return nil
}

func (c *ConfigShowCmd) Run(g *Globals) error {
	env, err := prepareRuntimeEnv(g)
	if err != nil {
		return err
	}
	defer env.Close()

	out, err := env.Settings.Redacted().YAML()
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
