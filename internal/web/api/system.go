package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.writeOK(w, map[string]string{"status": "ok"})
}

// handleConfig returns the active daemon configuration. The console
// password is blanked before serialization.
func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodGet) {
		return
	}
	if a.GetConfig == nil {
		a.writeError(w, http.StatusServiceUnavailable, "config provider unavailable")
		return
	}
	cfg := a.GetConfig()
	if cfg == nil {
		a.writeError(w, http.StatusServiceUnavailable, "config unavailable")
		return
	}

	redacted := *cfg
	redacted.WebUI.Password = ""
	redacted.OneBot.AccessToken = ""
	a.writeOK(w, redacted)
}

// handleSelf reports the bot account the gateway is logged in as.
func (a *API) handleSelf(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodGet) {
		return
	}
	if a.Self == nil {
		a.writeError(w, http.StatusServiceUnavailable, "gateway is not connected")
		return
	}
	info, err := a.Self(r)
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	a.writeOK(w, info)
}

type systemInfo struct {
	Hostname     string  `json:"hostname"`
	OS           string  `json:"os"`
	Platform     string  `json:"platform"`
	CPUPercent   float64 `json:"cpu_percent"`
	MemTotal     uint64  `json:"mem_total"`
	MemUsed      uint64  `json:"mem_used"`
	MemPercent   float64 `json:"mem_percent"`
	DiskTotal    uint64  `json:"disk_total"`
	DiskUsed     uint64  `json:"disk_used"`
	DiskPercent  float64 `json:"disk_percent"`
	HostUptime   uint64  `json:"host_uptime_sec"`
	BotUptime    int64   `json:"bot_uptime_sec"`
	GoVersion    string  `json:"go_version"`
	NumGoroutine int     `json:"num_goroutine"`
}

func (a *API) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	if !a.requireMethod(w, r, http.MethodGet) {
		return
	}

	info := systemInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		BotUptime:    int64(time.Since(a.StartedAt).Seconds()),
	}
	if hi, err := host.Info(); err == nil {
		info.Hostname = hi.Hostname
		info.OS = hi.OS
		info.Platform = hi.Platform
		info.HostUptime = hi.Uptime
	}
	// Instantaneous sample; a zero interval avoids blocking the request.
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemTotal = vm.Total
		info.MemUsed = vm.Used
		info.MemPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		info.DiskTotal = du.Total
		info.DiskUsed = du.Used
		info.DiskPercent = du.UsedPercent
	}

	a.writeOK(w, info)
}
