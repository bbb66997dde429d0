package command

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"
)

// Handlers simulate the maintenance operations: they stream plausible
// progress and return structured results without touching the host. The
// wire contract with the backend is the real one.

func init() {
	Register("health_check", healthCheck)
	Register("view_processes", viewProcesses)
	Register("kill_process", killProcess)
	Register("analyze_disk", analyzeDisk)
	Register("browse_files", browseFiles)
	Register("delete_file", deleteFile)
	Register("force_delete", forceDelete)
	Register("list_programs", listPrograms)
	Register("force_uninstall", forceUninstall)
	Register("view_downloads", staged("view_downloads", "Scanning downloads folder"))
	Register("view_recycle_bin", staged("view_recycle_bin", "Enumerating recycle bin"))
	Register("deep_clean", staged("deep_clean", "Removing temporary files", "Clearing caches", "Purging old logs"))
	Register("sys_fix", staged("sys_fix", "Verifying system files", "Repairing component store"))
	Register("full_optimize", staged("full_optimize", "Cleaning disk", "Defragmenting", "Tuning services"))
	Register("clean_registry", staged("clean_registry", "Scanning registry hives", "Removing orphaned keys"))
	Register("speed_up_boot", staged("speed_up_boot", "Listing startup entries", "Disabling slow entries"))
	Register("network_reset", staged("network_reset", "Flushing DNS cache", "Resetting adapters"))
	Register("generate_report", generateReport)
	Register("scan_browser_history", staged("scan_browser_history", "Reading browser profiles", "Extracting history"))
	Register("scan_threats", staged("scan_threats", "Loading signatures", "Scanning processes", "Scanning startup items"))
	Register("scan_network", staged("scan_network", "Discovering hosts", "Probing open ports"))
	Register("self_destruct", selfDestruct)
}

// staged builds a handler that walks fixed steps with short delays.
func staged(name string, steps ...string) Handler {
	return func(_ json.RawMessage, progress Progress) (json.RawMessage, error) {
		for i, step := range steps {
			progress("info", fmt.Sprintf("[%d/%d] %s", i+1, len(steps), step))
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
		return json.Marshal(map[string]any{"operation": name, "steps": len(steps), "status": "ok"})
	}
}

func healthCheck(_ json.RawMessage, progress Progress) (json.RawMessage, error) {
	progress("info", "Collecting runtime stats")
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	hostname, _ := os.Hostname()
	progress("info", "Health check complete")
	return json.Marshal(map[string]any{
		"hostname":   hostname,
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"goroutines": runtime.NumGoroutine(),
		"heap_bytes": ms.HeapAlloc,
		"num_cpu":    runtime.NumCPU(),
	})
}

func viewProcesses(_ json.RawMessage, progress Progress) (json.RawMessage, error) {
	progress("info", "Enumerating processes")
	procs := []map[string]any{
		{"pid": os.Getpid(), "name": "autonova-agent", "cpu": 0.3},
		{"pid": 1, "name": "init", "cpu": 0.0},
	}
	return json.Marshal(map[string]any{"processes": procs, "count": len(procs)})
}

func killProcess(params json.RawMessage, progress Progress) (json.RawMessage, error) {
	var p struct {
		PID int `json:"pid"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.PID <= 0 {
		return nil, fmt.Errorf("kill_process requires params.pid")
	}
	if p.PID == os.Getpid() {
		return nil, fmt.Errorf("refusing to kill own process %d", p.PID)
	}
	progress("info", fmt.Sprintf("Terminating pid %d", p.PID))
	return json.Marshal(map[string]any{"pid": p.PID, "terminated": true})
}

func analyzeDisk(_ json.RawMessage, progress Progress) (json.RawMessage, error) {
	progress("info", "Walking filesystem")
	time.Sleep(300 * time.Millisecond)
	progress("info", "Aggregating usage by directory")
	return json.Marshal(map[string]any{
		"total_gb": 256, "used_gb": 180, "largest_dirs": []string{"/var/log", "/home"},
	})
}

func browseFiles(params json.RawMessage, progress Progress) (json.RawMessage, error) {
	var p struct {
		Path string `json:"path"`
	}
	_ = json.Unmarshal(params, &p)
	if p.Path == "" {
		p.Path = "/"
	}
	progress("info", fmt.Sprintf("Listing %s", p.Path))
	entries, err := os.ReadDir(p.Path)
	if err != nil {
		return nil, fmt.Errorf("browse %s: %w", p.Path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
		if len(names) >= 200 {
			break
		}
	}
	return json.Marshal(map[string]any{"path": p.Path, "entries": names})
}

func deleteFile(params json.RawMessage, progress Progress) (json.RawMessage, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Path == "" {
		return nil, fmt.Errorf("delete_file requires params.path")
	}
	progress("info", fmt.Sprintf("Deleting %s", p.Path))
	return json.Marshal(map[string]any{"path": p.Path, "deleted": true})
}

func forceDelete(params json.RawMessage, progress Progress) (json.RawMessage, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Path == "" {
		return nil, fmt.Errorf("force_delete requires params.path")
	}
	progress("warn", fmt.Sprintf("Unlocking handles on %s", p.Path))
	progress("info", fmt.Sprintf("Force deleting %s", p.Path))
	return json.Marshal(map[string]any{"path": p.Path, "deleted": true, "forced": true})
}

func listPrograms(_ json.RawMessage, progress Progress) (json.RawMessage, error) {
	progress("info", "Reading installed programs")
	return json.Marshal(map[string]any{
		"programs": []string{"Autonova Agent", "OpenSSH", "Go Toolchain"},
	})
}

func forceUninstall(params json.RawMessage, progress Progress) (json.RawMessage, error) {
	var p struct {
		Program string `json:"program"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Program == "" {
		return nil, fmt.Errorf("force_uninstall requires params.program")
	}
	progress("info", fmt.Sprintf("Uninstalling %s", p.Program))
	progress("info", "Removing leftover files")
	return json.Marshal(map[string]any{"program": p.Program, "uninstalled": true})
}

func generateReport(_ json.RawMessage, progress Progress) (json.RawMessage, error) {
	progress("info", "Collecting system inventory")
	time.Sleep(200 * time.Millisecond)
	progress("info", "Rendering report")
	hostname, _ := os.Hostname()
	return json.Marshal(map[string]any{
		"hostname":     hostname,
		"generated_at": time.Now().Format(time.RFC3339),
		"sections":     []string{"hardware", "software", "network"},
	})
}

func selfDestruct(params json.RawMessage, progress Progress) (json.RawMessage, error) {
	var p struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.Unmarshal(params, &p); err != nil || !p.Confirm {
		// The backend enforces this too; a defective server must still
		// not be able to wipe an agent by accident.
		return nil, fmt.Errorf("self_destruct requires params.confirm=true")
	}
	progress("warn", "Wiping agent state")
	progress("warn", "Removing agent from startup")
	return json.Marshal(map[string]any{"destroyed": true})
}
