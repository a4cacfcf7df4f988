package api

import (
	"net/http"
	"runtime"
	"time"
)

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Projector     ProjectorStats  `json:"projector"`
	Runtime       RuntimeStats    `json:"runtime"`
	WebSocket     WebSocketStats  `json:"websocket"`
	MQTT          *DependencyStat `json:"mqtt,omitempty"`
}

// ProjectorStats are the session counters.
type ProjectorStats struct {
	DeviceID          string     `json:"device_id"`
	Address           string     `json:"address"`
	Connection        string     `json:"connection"`
	Power             string     `json:"power"`
	ConnectedSince    *time.Time `json:"connected_since,omitempty"`
	LastActivity      *time.Time `json:"last_activity,omitempty"`
	CommandsSent      uint64     `json:"commands_sent"`
	CommandsSucceeded uint64     `json:"commands_succeeded"`
	CommandsFailed    uint64     `json:"commands_failed"`
	CommandTimeouts   uint64     `json:"command_timeouts"`
	PollsSent         uint64     `json:"polls_sent"`
	Reconnects        uint64     `json:"reconnects"`
	SilentLinks       uint64     `json:"silent_links"`
	BytesReceived     uint64     `json:"bytes_received"`
}

// RuntimeStats contains Go runtime statistics.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WebSocketStats contains WebSocket hub statistics.
type WebSocketStats struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedFrames    uint64 `json:"dropped_frames"`
}

// DependencyStat reports an optional dependency's link.
type DependencyStat struct {
	Connected bool `json:"connected"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := s.session.Stats()
	resp := StatsResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Projector: ProjectorStats{
			DeviceID:          s.deviceID,
			Address:           s.address,
			Connection:        string(st.Connection),
			Power:             st.Power.String(),
			CommandsSent:      st.CommandsSent,
			CommandsSucceeded: st.CommandsSucceeded,
			CommandsFailed:    st.CommandsFailed,
			CommandTimeouts:   st.CommandTimeouts,
			PollsSent:         st.PollsSent,
			Reconnects:        st.Reconnects,
			SilentLinks:       st.SilentLinks,
			BytesReceived:     st.BytesRx,
		},
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		WebSocket: WebSocketStats{ConnectedClients: s.hub.ClientCount(), DroppedFrames: s.hub.Dropped()},
	}
	if !st.ConnectedSince.IsZero() {
		t := st.ConnectedSince.UTC()
		resp.Projector.ConnectedSince = &t
	}
	if !st.LastActivity.IsZero() {
		t := st.LastActivity.UTC()
		resp.Projector.LastActivity = &t
	}
	if s.mqtt != nil {
		resp.MQTT = &DependencyStat{Connected: s.mqtt.IsConnected()}
	}

	respond(w, http.StatusOK, resp)
}
