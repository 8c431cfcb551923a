package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/msageha/orchestra/internal/assign"
	"github.com/msageha/orchestra/internal/health"
	"github.com/msageha/orchestra/internal/model"
	"github.com/msageha/orchestra/internal/report"
	"github.com/msageha/orchestra/internal/status"
	"github.com/msageha/orchestra/internal/uds"
)

// AssignParams is the payload of the assign command. An empty Agents list
// considers every assignable agent.
type AssignParams struct {
	Task   model.Task `json:"task"`
	Agents []string   `json:"agents,omitempty"`
}

type RegisterCapabilitiesParams struct {
	Agent        string             `json:"agent"`
	Capabilities map[string]float64 `json:"capabilities"`
}

// RecordMetricsParams carries an agent sample, a project health snapshot,
// or both.
type RecordMetricsParams struct {
	Sample        *model.MetricSample  `json:"sample,omitempty"`
	ProjectHealth *model.ProjectHealth `json:"project_health,omitempty"`
}

// QualityCheckParams runs the gates for Project (default: the configured
// project) against Context.
type QualityCheckParams struct {
	Project string         `json:"project,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

type ReportParams struct {
	Project string         `json:"project,omitempty"`
	Agents  []string       `json:"agents,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// CheckHealthParams checks one agent, or every agent when Agent is empty.
type CheckHealthParams struct {
	Agent string `json:"agent,omitempty"`
}

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CmdPing, func(ctx context.Context, req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})
	d.server.Handle(uds.CmdStatus, d.handleStatus)
	d.server.Handle(uds.CmdAssign, d.handleAssign)
	d.server.Handle(uds.CmdRegisterCapabilities, d.handleRegisterCapabilities)
	d.server.Handle(uds.CmdRecordMetrics, d.handleRecordMetrics)
	d.server.Handle(uds.CmdQualityCheck, d.handleQualityCheck)
	d.server.Handle(uds.CmdReport, d.handleReport)
	d.server.Handle(uds.CmdCheckHealth, d.handleCheckHealth)
	d.server.Handle(uds.CmdShutdown, func(ctx context.Context, req *uds.Request) *uds.Response {
		d.logger.Infof("shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) statusInfo() status.DaemonInfo {
	return status.DaemonInfo{
		PID:        os.Getpid(),
		Project:    d.config.Project.Name,
		StartedAt:  d.startedAt,
		Rules:      len(d.gates.Rules()),
		Assignable: d.assigner.Agents(),
		Agents:     d.supervisor.Snapshot(),
	}
}

func (d *Daemon) handleStatus(ctx context.Context, req *uds.Request) *uds.Response {
	return uds.SuccessResponse(d.statusInfo())
}

func (d *Daemon) handleAssign(ctx context.Context, req *uds.Request) *uds.Response {
	var p AssignParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	agents := p.Agents
	if len(agents) == 0 {
		agents = d.assigner.Agents()
	}

	result, err := d.assigner.Assign(ctx, p.Task, agents)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	return uds.SuccessResponse(result)
}

func (d *Daemon) handleRegisterCapabilities(ctx context.Context, req *uds.Request) *uds.Response {
	var p RegisterCapabilitiesParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if err := d.assigner.RegisterAgentCapabilities(p.Agent, p.Capabilities); err != nil {
		if errors.Is(err, assign.ErrInvalidCapability) {
			return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
		}
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	caps, _ := d.assigner.Capabilities(p.Agent)
	return uds.SuccessResponse(map[string]any{"agent": p.Agent, "capabilities": caps})
}

func (d *Daemon) handleRecordMetrics(ctx context.Context, req *uds.Request) *uds.Response {
	var p RecordMetricsParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if p.Sample == nil && p.ProjectHealth == nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, "sample or project_health is required")
	}

	recorded := map[string]bool{}
	if s := p.Sample; s != nil {
		if s.AgentName == "" {
			return uds.ErrorResponse(uds.ErrCodeValidation, "sample.agent_name is required")
		}
		if err := d.store.RecordAgentMetrics(ctx, *s); err != nil {
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
		recorded["sample"] = true
	}
	if h := p.ProjectHealth; h != nil {
		if h.ProjectName == "" {
			h.ProjectName = d.config.Project.Name
		}
		if err := d.store.RecordProjectHealth(ctx, *h); err != nil {
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
		recorded["project_health"] = true
	}
	return uds.SuccessResponse(recorded)
}

func (d *Daemon) handleQualityCheck(ctx context.Context, req *uds.Request) *uds.Response {
	var p QualityCheckParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if p.Project == "" {
		p.Project = d.config.Project.Name
	}
	return uds.SuccessResponse(d.gates.CheckQualityGates(ctx, p.Project, p.Context))
}

func (d *Daemon) handleReport(ctx context.Context, req *uds.Request) *uds.Response {
	var p ReportParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if p.Project == "" {
		p.Project = d.config.Project.Name
	}

	r, err := d.reports.Generate(ctx, p.Project, p.Agents, p.Context)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if err := report.WriteDashboard(d.dir, r); err != nil {
		d.logger.Warnf("write dashboard: %v", err)
	}
	return uds.SuccessResponse(r)
}

func (d *Daemon) handleCheckHealth(ctx context.Context, req *uds.Request) *uds.Response {
	var p CheckHealthParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}

	// A check in progress runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	if p.Agent == "" {
		d.supervisor.CheckAll(ctx)
		return uds.SuccessResponse(d.supervisor.Snapshot())
	}

	if _, err := d.supervisor.CheckAgent(ctx, p.Agent); err != nil {
		if errors.Is(err, health.ErrUnknownAgent) {
			return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
		}
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	st, _ := d.supervisor.Status(p.Agent)
	return uds.SuccessResponse([]health.AgentStatus{st})
}
