// The volatile collector snapshots runtime state which will not
// survive a reboot: processes, network connections, memory, disks
// and basic system facts. Everything is gathered through gopsutil -
// no shell commands are spawned.
package volatile

import (
	"context"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	gopsutil_net "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"www.velocidex.com/golang/triage/logging"
)

// ProcessRecord is the per process inventory entry. Memory tasks
// consult these records to resolve process selection patterns.
type ProcessRecord struct {
	Pid        int32    `json:"pid"`
	Ppid       int32    `json:"ppid"`
	Name       string   `json:"name"`
	Exe        string   `json:"exe"`
	Cmdline    []string `json:"cmdline"`
	Username   string   `json:"username"`
	CreateTime int64    `json:"create_time"`
	CPUPercent float64  `json:"cpu_percent"`
	RSS        uint64   `json:"rss"`
	VMS        uint64   `json:"vms"`
}

// Snapshot holds the five volatile records. Each serializes to one
// archive entry under volatile/.
type Snapshot struct {
	SystemInfo         *ordereddict.Dict
	Processes          []*ProcessRecord
	NetworkConnections []*ordereddict.Dict
	Memory             *ordereddict.Dict
	Disks              []*ordereddict.Dict

	CollectedAt time.Time
}

// Collect gathers all five records. Partial failures degrade the
// snapshot (missing section) rather than fail it.
func Collect(ctx context.Context) *Snapshot {
	logger := logging.GetLogger("volatile")

	result := &Snapshot{
		CollectedAt: time.Now().UTC(),
	}

	var err error
	result.SystemInfo, err = collectSystemInfo(ctx)
	if err != nil {
		logger.Warnf("system info: %v", err)
	}

	result.Processes, err = collectProcesses(ctx)
	if err != nil {
		logger.Warnf("processes: %v", err)
	}

	result.NetworkConnections, err = collectConnections(ctx)
	if err != nil {
		logger.Warnf("network connections: %v", err)
	}

	result.Memory, err = collectMemory(ctx)
	if err != nil {
		logger.Warnf("memory: %v", err)
	}

	result.Disks, err = collectDisks(ctx)
	if err != nil {
		logger.Warnf("disks: %v", err)
	}

	return result
}

func collectSystemInfo(ctx context.Context) (*ordereddict.Dict, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}

	result := ordereddict.NewDict().
		Set("hostname", info.Hostname).
		Set("os", info.OS).
		Set("platform", info.Platform).
		Set("platform_family", info.PlatformFamily).
		Set("platform_version", info.PlatformVersion).
		Set("kernel_version", info.KernelVersion).
		Set("kernel_arch", info.KernelArch).
		Set("boot_time", time.Unix(int64(info.BootTime), 0).UTC().
			Format(time.RFC3339)).
		Set("uptime_seconds", info.Uptime).
		Set("host_id", info.HostID)

	cpus, err := cpu.InfoWithContext(ctx)
	if err == nil && len(cpus) > 0 {
		result.Set("cpu_model", cpus[0].ModelName).
			Set("cpu_count", len(cpus)).
			Set("cpu_cores", cpus[0].Cores)
	}

	return result, nil
}

func collectProcesses(ctx context.Context) ([]*ProcessRecord, error) {
	processes, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*ProcessRecord, 0, len(processes))
	for _, proc := range processes {
		record := &ProcessRecord{Pid: proc.Pid}

		// Each field can fail independently - a process we can not
		// fully inspect is still worth listing.
		record.Ppid, _ = proc.PpidWithContext(ctx)
		record.Name, _ = proc.NameWithContext(ctx)
		record.Exe, _ = proc.ExeWithContext(ctx)
		record.Cmdline, _ = proc.CmdlineSliceWithContext(ctx)
		record.Username, _ = proc.UsernameWithContext(ctx)
		record.CreateTime, _ = proc.CreateTimeWithContext(ctx)
		record.CPUPercent, _ = proc.CPUPercentWithContext(ctx)

		mem_info, err := proc.MemoryInfoWithContext(ctx)
		if err == nil && mem_info != nil {
			record.RSS = mem_info.RSS
			record.VMS = mem_info.VMS
		}

		result = append(result, record)
	}

	return result, nil
}

func collectConnections(ctx context.Context) ([]*ordereddict.Dict, error) {
	connections, err := gopsutil_net.ConnectionsWithContext(ctx, "all")
	if err != nil {
		return nil, err
	}

	result := make([]*ordereddict.Dict, 0, len(connections))
	for _, conn := range connections {
		result = append(result, ordereddict.NewDict().
			Set("fd", conn.Fd).
			Set("family", conn.Family).
			Set("type", conn.Type).
			Set("local_addr", conn.Laddr.IP).
			Set("local_port", conn.Laddr.Port).
			Set("remote_addr", conn.Raddr.IP).
			Set("remote_port", conn.Raddr.Port).
			Set("status", conn.Status).
			Set("pid", conn.Pid))
	}

	return result, nil
}

func collectMemory(ctx context.Context) (*ordereddict.Dict, error) {
	virtual, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}

	result := ordereddict.NewDict().
		Set("total", virtual.Total).
		Set("available", virtual.Available).
		Set("used", virtual.Used).
		Set("used_percent", virtual.UsedPercent).
		Set("free", virtual.Free)

	swap, err := mem.SwapMemoryWithContext(ctx)
	if err == nil {
		result.Set("swap_total", swap.Total).
			Set("swap_used", swap.Used).
			Set("swap_free", swap.Free)
	}

	return result, nil
}

func collectDisks(ctx context.Context) ([]*ordereddict.Dict, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	result := make([]*ordereddict.Dict, 0, len(partitions))
	for _, partition := range partitions {
		record := ordereddict.NewDict().
			Set("device", partition.Device).
			Set("mountpoint", partition.Mountpoint).
			Set("fstype", partition.Fstype).
			Set("opts", partition.Opts)

		usage, err := disk.UsageWithContext(ctx, partition.Mountpoint)
		if err == nil {
			record.Set("total", usage.Total).
				Set("used", usage.Used).
				Set("free", usage.Free).
				Set("used_percent", usage.UsedPercent)
		}

		result = append(result, record)
	}

	return result, nil
}

// FindProcesses returns the pids of snapshot processes whose name
// matches the pattern (substring, case sensitive match is done by
// the caller supplied matcher).
func (self *Snapshot) FindProcesses(matcher func(name string) bool) []int32 {
	var result []int32
	for _, record := range self.Processes {
		if matcher(record.Name) {
			result = append(result, record.Pid)
		}
	}
	return result
}
