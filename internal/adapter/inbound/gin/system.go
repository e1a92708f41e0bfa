package gin

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clipforge/server/internal/module/provider"
)

// MinProbeInterval is the shortest gap between two on-demand provider probes.
// Requests inside it are answered from the cached snapshot.
const MinProbeInterval = 30 * time.Second

// SystemAdapter serves diagnostics and queue administration.
type SystemAdapter struct {
	tasks     TaskService
	providers ProviderService
	hub       ProgressHub
	startedAt time.Time
	now       func() time.Time

	probeMu   sync.Mutex
	lastProbe time.Time
}

// NewSystemAdapter creates a new system HTTP adapter.
func NewSystemAdapter(tasks TaskService, providers ProviderService, hub ProgressHub) *SystemAdapter {
	return &SystemAdapter{
		tasks:     tasks,
		providers: providers,
		hub:       hub,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// RegisterRoutes registers system routes. admin guards queue administration.
func (a *SystemAdapter) RegisterRoutes(r *gin.RouterGroup, admin gin.HandlerFunc) {
	r.GET("/server-stats", a.ServerStats)
	r.GET("/sys-status", a.SysStatus)
	r.GET("/check-all-services", a.CheckAllServices)
	r.POST("/clear-queue", admin, a.ClearQueue)
}

// MemoryStats is the memory section of the server stats.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	HeapInuse  uint64 `json:"heapInuse"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

func readMemoryStats() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemoryStats{
		Alloc:      ms.Alloc,
		TotalAlloc: ms.TotalAlloc,
		Sys:        ms.Sys,
		HeapInuse:  ms.HeapInuse,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// ServerStats returns memory usage and queue depth counts.
//
//	@Summary		Server stats
//	@Description	Return memory usage, queue depth and subscriber counts
//	@Tags			System
//	@Produce		json
//	@Success		200		{object}	map[string]interface{}
//	@Failure		500		{object}	map[string]string	"Internal server error"
//	@Router			/server-stats [get]
func (a *SystemAdapter) ServerStats(c *gin.Context) {
	stats, err := a.tasks.Stats(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"memory":      readMemoryStats(),
		"queue":       stats,
		"subscribers": a.hub.Count(),
		"uptime":      int(time.Since(a.startedAt).Seconds()),
	})
}

// SysStatus returns the cached provider health snapshot.
//
//	@Summary		Provider status
//	@Description	Return the cached provider health snapshot per capability
//	@Tags			System
//	@Produce		json
//	@Success		200		{object}	map[string]interface{}	"success, services, available"
//	@Router			/sys-status [get]
func (a *SystemAdapter) SysStatus(c *gin.Context) {
	c.JSON(http.StatusOK, providerStatus(a.providers.Descriptors()))
}

// CheckAllServices probes every provider before returning the snapshot,
// at most once per MinProbeInterval.
//
//	@Summary		Check all providers
//	@Description	Health-check every provider, then return the snapshot. Calls within 30s of the last check are served from cache.
//	@Tags			System
//	@Produce		json
//	@Success		200		{object}	map[string]interface{}	"success, services, available"
//	@Router			/check-all-services [get]
func (a *SystemAdapter) CheckAllServices(c *gin.Context) {
	if a.claimProbe() {
		a.providers.ProbeAll(c.Request.Context())
	}
	c.JSON(http.StatusOK, providerStatus(a.providers.Descriptors()))
}

// claimProbe reports whether the caller should run a probe now. Concurrent
// callers inside the interval get false and read the cached snapshot.
func (a *SystemAdapter) claimProbe() bool {
	a.probeMu.Lock()
	defer a.probeMu.Unlock()
	now := a.now()
	if !a.lastProbe.IsZero() && now.Sub(a.lastProbe) < MinProbeInterval {
		return false
	}
	a.lastProbe = now
	return true
}

func providerStatus(descriptors map[provider.Capability][]provider.Descriptor) gin.H {
	services := make(map[provider.Capability][]provider.Descriptor, len(provider.Capabilities))
	available := make(map[provider.Capability]bool, len(provider.Capabilities))
	for _, capability := range provider.Capabilities {
		list := descriptors[capability]
		if list == nil {
			list = []provider.Descriptor{}
		}
		services[capability] = list
		available[capability] = anyUsable(list)
	}
	return gin.H{
		"success":   true,
		"services":  services,
		"available": available,
	}
}

func anyUsable(list []provider.Descriptor) bool {
	for _, d := range list {
		if d.Usable() {
			return true
		}
	}
	return false
}

// ClearQueue discards every pending task.
//
//	@Summary		Clear queue
//	@Description	Discard every pending task. Running tasks are not affected.
//	@Tags			System
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200		{object}	map[string]interface{}	"success, discarded"
//	@Failure		401		{object}	map[string]string	"Unauthorized"
//	@Router			/clear-queue [post]
func (a *SystemAdapter) ClearQueue(c *gin.Context) {
	n, err := a.tasks.ClearQueue(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "discarded": n})
}
