package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/kpfarm/farmbook/internal/schema"
	"github.com/kpfarm/farmbook/internal/syncer"
)

// EnterpriseStats summarises one enterprise type.
type EnterpriseStats struct {
	Income       string `json:"income"`
	Expenses     string `json:"expenses"`
	Balance      string `json:"balance"`
	Transactions int    `json:"transactions"`
	PendingTasks int    `json:"pending_tasks"`
	DoneTasks    int    `json:"done_tasks"`
}

// StatsData is the payload of a stats message.
type StatsData struct {
	FarmName     string                     `json:"farm_name"`
	Currency     string                     `json:"currency"`
	Backend      string                     `json:"backend"`
	CloudSyncing bool                       `json:"cloud_syncing"`
	Enterprises  map[string]EnterpriseStats `json:"enterprises"`
	GeneralTasks int                        `json:"general_tasks"`
}

// NoticeData is the payload of a notice message.
type NoticeData struct {
	Level   string `json:"level"`
	Op      string `json:"op"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Status reports orchestrator state that is not part of schema.State.
type Status interface {
	Backend() string
	IsCloudSyncing() bool
}

// Handler turns orchestrator events into dashboard messages.
//
// Handler implements syncer.Notifier; attach it with Attach to receive
// state changes as well.
type Handler struct {
	server *Server
	logger *log.Logger

	mu     sync.Mutex
	status Status
	stats  StatsData
}

var _ syncer.Notifier = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = server.logger
	}
	return &Handler{server: server, logger: logger}
}

// Attach subscribes h to o's state changes and broadcasts the current state.
func (h *Handler) Attach(o *syncer.Orchestrator) {
	h.mu.Lock()
	h.status = o
	h.mu.Unlock()

	o.OnChange(h.OnState)
	h.OnState(o.State())
}

// OnState recomputes statistics for s and broadcasts them.
func (h *Handler) OnState(s schema.State) {
	h.mu.Lock()
	h.stats = ComputeStats(s, h.status)
	stats := h.stats
	h.mu.Unlock()

	h.send(MessageTypeStats, stats)
}

// Notify implements syncer.Notifier.
func (h *Handler) Notify(n syncer.Notice) {
	data := NoticeData{
		Level:   n.Level.String(),
		Op:      n.Op,
		Message: n.Message,
	}
	if n.Err != nil {
		data.Error = n.Err.Error()
	}
	h.send(MessageTypeNotice, data)
}

// Stats returns the last computed statistics.
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) send(typ MessageType, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}

// ComputeStats aggregates s per enterprise type. status may be nil.
func ComputeStats(s schema.State, status Status) StatsData {
	stats := StatsData{
		FarmName:    s.Settings.FarmName,
		Currency:    s.Settings.Currency,
		Backend:     "local",
		Enterprises: make(map[string]EnterpriseStats, len(schema.LivestockTypes)),
	}
	if status != nil {
		stats.Backend = status.Backend()
		stats.CloudSyncing = status.IsCloudSyncing()
	}

	for _, et := range schema.LivestockTypes {
		var txs []schema.Transaction
		for _, tx := range s.Transactions {
			if tx.EnterpriseType == et {
				txs = append(txs, tx)
			}
		}
		totals := schema.Sum(txs)
		stats.Enterprises[string(et)] = EnterpriseStats{
			Income:       totals.Income.StringFixed(2),
			Expenses:     totals.Expenses.StringFixed(2),
			Balance:      totals.Balance().StringFixed(2),
			Transactions: totals.Count,
		}
	}

	for _, t := range s.Tasks {
		e, ok := stats.Enterprises[string(t.EnterpriseType)]
		if !ok {
			stats.GeneralTasks++
			continue
		}
		if t.Status == schema.Completed {
			e.DoneTasks++
		} else {
			e.PendingTasks++
		}
		stats.Enterprises[string(t.EnterpriseType)] = e
	}
	return stats
}
