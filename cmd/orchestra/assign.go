package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/msageha/orchestra/internal/assign"
	"github.com/msageha/orchestra/internal/daemon"
	"github.com/msageha/orchestra/internal/model"
	"github.com/msageha/orchestra/internal/uds"
)

type assignFlags struct {
	task       string
	agents     []string
	skills     []string
	priority   string
	complexity float64
}

func newAssignCmd(g *globalFlags) *cobra.Command {
	f := &assignFlags{}
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a task to the best-matching agent",
		Long: `Score candidate agents for a task and record the assignment.

The task is given either as JSON/YAML with --task (prefix a path with @ to
read it from a file) or built from --skill, --priority and --complexity.
A task without an id gets a generated one.`,
		Example: `  orchestra assign --task '{"required_skills":{"backend_development":0.8}}'
  orchestra assign --task @task.yaml --agents dev1,dev2
  orchestra assign --skill testing=0.7 --priority high`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := f.buildTask(cmd)
			if err != nil {
				return err
			}
			c, _, err := g.client(defaultCallTimeout)
			if err != nil {
				return err
			}
			var result assign.Assignment
			params := daemon.AssignParams{Task: task, Agents: f.agents}
			if err := c.Call(cmd.Context(), uds.CmdAssign, params, &result); err != nil {
				return fmt.Errorf("assign: %w", err)
			}
			if !result.Assigned() {
				fmt.Fprintf(cmd.ErrOrStderr(), "no agent qualified for task %s\n", result.TaskID)
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&f.task, "task", "", "task as JSON/YAML, or @file")
	cmd.Flags().StringSliceVar(&f.agents, "agents", nil, "candidate agents (default: every assignable agent)")
	cmd.Flags().StringSliceVar(&f.skills, "skill", nil, "required skill as name=level (repeatable)")
	cmd.Flags().StringVar(&f.priority, "priority", "", "low, medium or high")
	cmd.Flags().Float64Var(&f.complexity, "complexity", model.DefaultComplexity, "task complexity in [0,1]")
	return cmd
}

func (f *assignFlags) buildTask(cmd *cobra.Command) (model.Task, error) {
	var task model.Task
	if f.task != "" {
		data, err := readArg(f.task)
		if err != nil {
			return task, err
		}
		if err := yaml.Unmarshal(data, &task); err != nil {
			return task, fmt.Errorf("parse --task: %w", err)
		}
	}

	if len(f.skills) > 0 {
		skills, err := parseLevels(f.skills)
		if err != nil {
			return task, err
		}
		if task.RequiredSkills == nil {
			task.RequiredSkills = skills
		} else {
			for k, v := range skills {
				task.RequiredSkills[k] = v
			}
		}
	}
	if cmd.Flags().Changed("priority") {
		p, err := model.ParsePriority(f.priority)
		if err != nil {
			return task, err
		}
		task.Priority = p
	} else if task.Priority != "" {
		p, err := model.ParsePriority(string(task.Priority))
		if err != nil {
			return task, err
		}
		task.Priority = p
	}
	if cmd.Flags().Changed("complexity") {
		c := f.complexity
		task.Complexity = &c
	}

	if strings.TrimSpace(task.ID) == "" {
		task.ID = uuid.NewString()
	}
	if err := task.Validate(); err != nil {
		return task, err
	}
	return task, nil
}

func newCapabilitiesCmd(g *globalFlags) *cobra.Command {
	var levels []string
	cmd := &cobra.Command{
		Use:     "capabilities <agent>",
		Short:   "Register or replace an agent's capability vector",
		Example: `  orchestra capabilities dev1 --set backend_development=0.9 --set testing=0.6`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := parseLevels(levels)
			if err != nil {
				return err
			}
			c, _, err := g.client(defaultCallTimeout)
			if err != nil {
				return err
			}
			var out map[string]any
			params := daemon.RegisterCapabilitiesParams{Agent: args[0], Capabilities: caps}
			if err := c.Call(cmd.Context(), uds.CmdRegisterCapabilities, params, &out); err != nil {
				return fmt.Errorf("register capabilities: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringSliceVar(&levels, "set", nil, "capability as name=level (repeatable)")
	return cmd
}
