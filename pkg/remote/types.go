package remote

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ignatij/flowmirror/pkg/models"
)

// RemoteNode is the slice of a remote node definition we care about: its type
// string (for trigger inference) and its parameters (for the webhook path).
type RemoteNode struct {
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// RemoteTag mirrors the remote engine's tag objects.
type RemoteTag struct {
	Name string `json:"name"`
}

// RemoteWorkflow is a workflow definition as listed by the remote engine.
type RemoteWorkflow struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Active bool         `json:"active"`
	Nodes  []RemoteNode `json:"nodes"`
	Tags   []RemoteTag  `json:"tags"`
}

// RemoteExecution is the remote engine's view of one run.
type RemoteExecution struct {
	ID        string          `json:"id"`
	Finished  bool            `json:"finished"`
	Status    string          `json:"status"` // "success", "error", "running", ...
	Data      json.RawMessage `json:"data,omitempty"`
	StoppedAt *time.Time      `json:"stoppedAt,omitempty"`
}

// InvocationResult is the outcome of triggering a workflow remotely. The
// remote execution ID may be empty for webhook invocations whose response
// carries no identifier.
type InvocationResult struct {
	RemoteExecutionID string
	Strategy          string // Which strategy produced the result
}

// TagNames flattens the remote tag objects into a string set.
func (w RemoteWorkflow) TagNames() []string {
	names := make([]string, 0, len(w.Tags))
	for _, t := range w.Tags {
		names = append(names, t.Name)
	}
	return names
}

// InferTriggerType scans the workflow's node type strings for trigger hints.
// The remote engine names trigger nodes after their kind ("webhookTrigger",
// "scheduleTrigger", "cron", ...), so a substring match is enough.
func (w RemoteWorkflow) InferTriggerType() models.TriggerType {
	for _, n := range w.Nodes {
		t := strings.ToLower(n.Type)
		switch {
		case strings.Contains(t, "webhook"):
			return models.WebhookTrigger
		case strings.Contains(t, "schedule"), strings.Contains(t, "cron"):
			return models.ScheduleTrigger
		case strings.Contains(t, "email"):
			return models.EmailTrigger
		case strings.Contains(t, "form"):
			return models.FormTrigger
		case strings.Contains(t, "chat"):
			return models.ChatTrigger
		}
	}
	return models.ManualTrigger
}

// WebhookPath extracts the path parameter of the first webhook node, if any.
func (w RemoteWorkflow) WebhookPath() string {
	for _, n := range w.Nodes {
		if !strings.Contains(strings.ToLower(n.Type), "webhook") {
			continue
		}
		var params struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(n.Parameters, &params); err == nil && params.Path != "" {
			return params.Path
		}
	}
	return ""
}
