package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/skillgate/internal/model"
)

// --- Input/Output types ---

// InvokeInput defines parameters for the skill_invoke tool.
type InvokeInput struct {
	Capability string         `json:"capability" jsonschema:"capability name or alias (see skill_list)"`
	Arguments  map[string]any `json:"arguments,omitempty" jsonschema:"capability arguments"`
	RequestID  string         `json:"request_id,omitempty" jsonschema:"caller supplied request id"`
	DryRun     bool           `json:"dry_run,omitempty" jsonschema:"evaluate policy and rate limits without executing"`
}

// InvokeOutput is the terminal result of an invocation.
type InvokeOutput struct {
	RequestID string         `json:"request_id,omitempty"`
	Status    string         `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Detail    string         `json:"detail"`
	ActionID  string         `json:"action_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// UndoInput defines parameters for the skill_undo tool.
type UndoInput struct {
	ActionID   string `json:"action_id,omitempty" jsonschema:"action id returned by a reversible invocation"`
	Capability string `json:"capability,omitempty" jsonschema:"with no action_id, undo the last action of this capability"`
}

// ListInput defines parameters for the skill_list tool.
type ListInput struct {
	Category string `json:"category,omitempty" jsonschema:"only list capabilities in this category"`
}

// ListOutput lists capabilities.
type ListOutput struct {
	Capabilities []CapabilityInfo `json:"capabilities"`
}

// CapabilityInfo describes one capability to the model.
type CapabilityInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Aliases     []string  `json:"aliases,omitempty"`
	Args        []ArgInfo `json:"args,omitempty"`
	Destructive bool      `json:"destructive,omitempty"`
	Reversible  bool      `json:"reversible,omitempty"`
}

// ArgInfo describes one capability argument.
type ArgInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
}

// StatusInput is empty; policy_status takes no parameters.
type StatusInput struct{}

// StatusOutput summarizes the policy in effect.
type StatusOutput struct {
	AllowedRoots      []string `json:"allowed_roots"`
	BlockedExtensions []string `json:"blocked_extensions"`
	ProtectedFiles    []string `json:"protected_files,omitempty"`
	PrivilegedMode    bool     `json:"privileged_mode"`
	PrivilegedUntil   string   `json:"privileged_until,omitempty"`
	PolicyHash        string   `json:"policy_hash"`
}

// PrivilegedInput defines parameters for the policy_privileged tool.
type PrivilegedInput struct {
	Enabled  bool   `json:"enabled" jsonschema:"true to enable privileged mode, false to disable"`
	Token    string `json:"token,omitempty" jsonschema:"admin token, required to enable"`
	Reason   string `json:"reason,omitempty" jsonschema:"why privileged mode is needed, required to enable"`
	Duration string `json:"duration,omitempty" jsonschema:"how long to stay privileged (e.g. 10m, max 1h)"`
}

// PrivilegedOutput reports the resulting mode.
type PrivilegedOutput struct {
	PrivilegedMode  bool   `json:"privileged_mode"`
	PrivilegedUntil string `json:"privileged_until,omitempty"`
	PolicyHash      string `json:"policy_hash"`
}

// --- Handlers ---

func (s *Server) handleInvoke(ctx context.Context, _ *mcpsdk.CallToolRequest, input InvokeInput) (*mcpsdk.CallToolResult, InvokeOutput, error) {
	req := model.Request{
		CapabilityName: input.Capability,
		Arguments:      input.Arguments,
		RequestID:      input.RequestID,
		Actor:          model.ActorLLM,
	}

	if input.DryRun {
		p := s.d.Preview(ctx, req)
		out := InvokeOutput{
			Status: string(p.Status),
			Reason: string(p.Reason),
			Detail: p.Detail,
		}
		if !p.Allowed {
			return &mcpsdk.CallToolResult{IsError: true}, out, nil
		}
		return nil, out, nil
	}

	return resultOutput(s.d.Submit(ctx, req))
}

func (s *Server) handleUndo(ctx context.Context, _ *mcpsdk.CallToolRequest, input UndoInput) (*mcpsdk.CallToolResult, InvokeOutput, error) {
	var res model.Result
	if id := strings.TrimSpace(input.ActionID); id != "" {
		res = s.d.Undo(ctx, id, model.ActorLLM)
	} else {
		res = s.d.UndoLast(ctx, input.Capability, model.ActorLLM)
	}
	return resultOutput(res)
}

func (s *Server) handleList(_ context.Context, _ *mcpsdk.CallToolRequest, input ListInput) (*mcpsdk.CallToolResult, ListOutput, error) {
	out := ListOutput{Capabilities: []CapabilityInfo{}}
	for _, d := range s.d.Registry().All() {
		if input.Category != "" && !strings.EqualFold(input.Category, d.Category) {
			continue
		}
		info := CapabilityInfo{
			Name:        d.Name,
			Description: d.Description,
			Category:    d.Category,
			Aliases:     d.Aliases,
			Destructive: d.Destructive,
			Reversible:  d.Reversible,
		}
		for _, a := range d.Args {
			info.Args = append(info.Args, ArgInfo{
				Name:        a.Name,
				Type:        string(a.Type),
				Required:    a.Required,
				Description: a.Description,
			})
		}
		out.Capabilities = append(out.Capabilities, info)
	}
	return nil, out, nil
}

func (s *Server) handleStatus(_ context.Context, _ *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	return nil, s.status(), nil
}

func (s *Server) handlePrivileged(_ context.Context, _ *mcpsdk.CallToolRequest, input PrivilegedInput) (*mcpsdk.CallToolResult, PrivilegedOutput, error) {
	if !input.Enabled {
		s.d.SetPrivilegedMode(model.ActorLLM, false, 0)
		return nil, s.privileged(), nil
	}

	var ttl time.Duration
	if input.Duration != "" {
		d, err := time.ParseDuration(input.Duration)
		if err != nil {
			return nil, PrivilegedOutput{}, fmt.Errorf("invalid duration %q: %w", input.Duration, err)
		}
		ttl = d
	}
	ttl, err := s.auth.Grant(input.Token, input.Reason, ttl)
	if err != nil {
		s.logger.Warn("privileged mode request refused", zap.Error(err))
		return &mcpsdk.CallToolResult{IsError: true}, s.privileged(), nil
	}

	s.d.SetPrivilegedMode(model.ActorLLM, true, ttl)
	s.logger.Info("privileged mode enabled",
		zap.String("reason", input.Reason),
		zap.Duration("ttl", ttl))
	return nil, s.privileged(), nil
}

func (s *Server) status() StatusOutput {
	st := s.d.Policy().Snapshot().Status()
	out := StatusOutput{
		AllowedRoots:      st.AllowedRoots,
		BlockedExtensions: st.BlockedExtensions,
		ProtectedFiles:    st.ProtectedFiles,
		PrivilegedMode:    st.PrivilegedMode,
		PolicyHash:        st.PolicyHash,
	}
	if st.PrivilegedUntil != nil {
		out.PrivilegedUntil = st.PrivilegedUntil.UTC().Format(time.RFC3339)
	}
	return out
}

func (s *Server) privileged() PrivilegedOutput {
	st := s.status()
	return PrivilegedOutput{
		PrivilegedMode:  st.PrivilegedMode,
		PrivilegedUntil: st.PrivilegedUntil,
		PolicyHash:      st.PolicyHash,
	}
}

func resultOutput(res model.Result) (*mcpsdk.CallToolResult, InvokeOutput, error) {
	out := InvokeOutput{
		RequestID: res.RequestID,
		Status:    string(res.Status),
		Reason:    string(res.Reason),
		Detail:    res.Detail,
		ActionID:  res.ReversibleActionID,
		Data:      res.Data,
	}
	if !res.OK() {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}
