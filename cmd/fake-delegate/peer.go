// ABOUTME: In-memory swarm and hive state behind the fake delegate's replies
// ABOUTME: Unknown actions get the peer's own error envelope without a code

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/anf-daemon/internal/protocol"
)

type swarm struct {
	ID       string
	Topology string
	Agents   []string
	Task     string
	Runs     int
	Created  time.Time
}

type memory struct {
	ID           string
	Content      string
	Type         string
	Contributors int
	Confidence   float64
	Accesses     int
}

// peer answers the delegated action set plus agent_list and agent_info.
type peer struct {
	delay  time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	swarms    map[string]*swarm
	memories  []*memory
	nodes     []string
	decisions int
}

func newPeer(delay time.Duration, logger *slog.Logger) *peer {
	return &peer{
		delay:  delay,
		logger: logger.With("component", "peer"),
		swarms: make(map[string]*swarm),
	}
}

type peerHandler func(params map[string]any) protocol.Response

// HandleRaw decodes one request and replies in the peer's envelope style:
// success payloads carry "success": true, failures only "error".
func (p *peer) HandleRaw(ctx context.Context, data []byte) protocol.Response {
	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.Response{"error": fmt.Sprintf("Invalid JSON: %v", err)}
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}
	p.logger.Debug("request", "action", req.Action)

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return protocol.Response{"error": "peer shutting down"}
		}
	}

	handlers := map[string]peerHandler{
		"swarm_create":   p.swarmCreate,
		"swarm_execute":  p.swarmExecute,
		"swarm_status":   p.swarmStatus,
		"swarm_dissolve": p.swarmDissolve,
		"swarm_list":     p.swarmList,
		"hive_init":      p.hiveInit,
		"hive_decide":    p.hiveDecide,
		"hive_remember":  p.hiveRemember,
		"hive_recall":    p.hiveRecall,
		"hive_status":    p.hiveStatus,
		"collaborate":    p.collaborate,
		"agent_list":     p.agentList,
		"agent_info":     p.agentInfo,
	}
	h, ok := handlers[req.Action]
	if !ok {
		return protocol.Response{"error": fmt.Sprintf("Unknown action: %s", req.Action)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return h(req.Params)
}

func succeed(payload map[string]any) protocol.Response {
	payload["success"] = true
	return protocol.Response(payload)
}

func fail(format string, args ...any) protocol.Response {
	return protocol.Response{"error": fmt.Sprintf(format, args...)}
}

func str(params map[string]any, key, def string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return def
}

func strList(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}
	return nil
}

func num(params map[string]any, key string, def float64) float64 {
	if f, ok := params[key].(float64); ok {
		return f
	}
	return def
}

func flag(params map[string]any, key string) bool {
	b, _ := params[key].(bool)
	return b
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (p *peer) swarmCreate(params map[string]any) protocol.Response {
	s := &swarm{
		ID:       str(params, "id", "swarm_"+uuid.NewString()[:8]),
		Topology: str(params, "topology", "adaptive"),
		Agents:   strList(params, "agents"),
		Task:     str(params, "task", ""),
		Created:  time.Now(),
	}
	switch s.Topology {
	case "hierarchical", "mesh", "collective", "adaptive":
	default:
		return fail("Unknown topology: %s", s.Topology)
	}
	if _, exists := p.swarms[s.ID]; exists {
		return fail("Swarm %s already exists", s.ID)
	}
	p.swarms[s.ID] = s
	return succeed(map[string]any{
		"swarm_id": s.ID,
		"topology": s.Topology,
		"agents":   len(s.Agents),
		"status":   "created",
	})
}

func (p *peer) swarmExecute(params map[string]any) protocol.Response {
	id := str(params, "swarm_id", "")
	s, found := p.swarms[id]
	if !found {
		return fail("Swarm %s not found", id)
	}
	s.Runs++
	task := str(params, "task", s.Task)
	return succeed(map[string]any{
		"swarm_id": id,
		"task":     task,
		"result": map[string]any{
			"status":       "completed",
			"participants": len(s.Agents),
			"summary":      fmt.Sprintf("%d agents completed %q", len(s.Agents), task),
		},
	})
}

func (p *peer) swarmStatus(params map[string]any) protocol.Response {
	id := str(params, "swarm_id", "")
	s, found := p.swarms[id]
	if !found {
		return fail("Swarm %s not found", id)
	}
	return succeed(map[string]any{
		"status": map[string]any{
			"swarm_id":       s.ID,
			"topology":       s.Topology,
			"active_agents":  len(s.Agents),
			"tasks_executed": s.Runs,
			"uptime_seconds": int(time.Since(s.Created).Seconds()),
		},
	})
}

func (p *peer) swarmDissolve(params map[string]any) protocol.Response {
	id := str(params, "swarm_id", "")
	if _, found := p.swarms[id]; !found {
		return fail("Swarm %s not found", id)
	}
	delete(p.swarms, id)
	return succeed(map[string]any{
		"swarm_id":      id,
		"results_saved": flag(params, "save_results"),
	})
}

func (p *peer) swarmList(params map[string]any) protocol.Response {
	ids := make([]string, 0, len(p.swarms))
	for id := range p.swarms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	detailed := flag(params, "detailed")
	swarms := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		s := p.swarms[id]
		entry := map[string]any{
			"id":       s.ID,
			"topology": s.Topology,
			"agents":   len(s.Agents),
			"status":   "active",
		}
		if detailed {
			entry["agent_ids"] = s.Agents
			entry["tasks_executed"] = s.Runs
		}
		swarms = append(swarms, entry)
	}
	return succeed(map[string]any{"swarms": swarms, "total": len(swarms)})
}

func (p *peer) hiveInit(params map[string]any) protocol.Response {
	agents := strList(params, "agents")
	created := make([]string, 0, len(agents))
	for _, a := range agents {
		id := "node_" + a
		p.nodes = append(p.nodes, id)
		created = append(created, id)
	}
	return succeed(map[string]any{"nodes_created": len(created), "node_ids": created})
}

func (p *peer) hiveDecide(params map[string]any) protocol.Response {
	question := str(params, "question", "")
	if question == "" {
		return fail("question is required")
	}
	method := str(params, "method", "consensus")
	switch method {
	case "consensus", "weighted", "quorum", "emergent":
	default:
		return fail("Unknown decision method: %s", method)
	}
	p.decisions++
	return succeed(map[string]any{
		"decision_id": fmt.Sprintf("decision_%d", p.decisions),
		"question":    question,
		"options":     len(strList(params, "options")),
		"method":      method,
	})
}

func (p *peer) hiveRemember(params map[string]any) protocol.Response {
	content := str(params, "content", "")
	if content == "" {
		return fail("content is required")
	}
	m := &memory{
		ID:           "mem_" + uuid.NewString()[:8],
		Content:      content,
		Type:         str(params, "memory_type", "semantic"),
		Contributors: len(strList(params, "contributors")),
		Confidence:   num(params, "confidence", 0.8),
	}
	p.memories = append(p.memories, m)
	return succeed(map[string]any{
		"memory_id":       m.ID,
		"content_preview": preview(m.Content, 100),
		"type":            m.Type,
		"contributors":    m.Contributors,
	})
}

func (p *peer) hiveRecall(params map[string]any) protocol.Response {
	query := strings.ToLower(str(params, "query", ""))
	memType := str(params, "memory_type", "")
	minConf := num(params, "min_confidence", 0.5)

	results := []map[string]any{}
	for _, m := range p.memories {
		if memType != "" && m.Type != memType {
			continue
		}
		if m.Confidence < minConf || !strings.Contains(strings.ToLower(m.Content), query) {
			continue
		}
		m.Accesses++
		results = append(results, map[string]any{
			"fragment_id":     m.ID,
			"content_preview": preview(m.Content, 200),
			"confidence":      m.Confidence,
			"type":            m.Type,
			"contributors":    m.Contributors,
			"access_count":    m.Accesses,
		})
	}
	return succeed(map[string]any{
		"query":          str(params, "query", ""),
		"memories_found": len(results),
		"results":        results,
	})
}

func (p *peer) hiveStatus(params map[string]any) protocol.Response {
	status := map[string]any{
		"nodes":     len(p.nodes),
		"memories":  len(p.memories),
		"decisions": p.decisions,
	}
	if flag(params, "nodes") {
		status["node_details"] = p.nodes
	}
	return succeed(map[string]any{"status": status})
}

func (p *peer) collaborate(params map[string]any) protocol.Response {
	task := str(params, "task", "")
	if task == "" {
		return fail("task is required")
	}
	agents := strList(params, "agents")
	if len(agents) == 0 {
		agents = []string{"development", "coordination"}
	}
	return succeed(map[string]any{
		"task":     task,
		"mode":     str(params, "mode", "adaptive_selection"),
		"topology": str(params, "topology", "adaptive"),
		"agents":   agents,
		"result":   "collaboration completed",
	})
}

func (p *peer) agentList(map[string]any) protocol.Response {
	return succeed(map[string]any{
		"agents": []map[string]any{
			{"id": "python-coordinator", "type": "coordination", "status": "idle"},
		},
		"total": 1,
	})
}

func (p *peer) agentInfo(params map[string]any) protocol.Response {
	id := str(params, "agent_id", "")
	if id != "python-coordinator" {
		return fail("Agent %s not found", id)
	}
	return succeed(map[string]any{
		"agent": map[string]any{
			"id":           id,
			"type":         "coordination",
			"capabilities": []string{"swarm", "hive"},
		},
	})
}
