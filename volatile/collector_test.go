package volatile

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	snapshot := Collect(context.Background())
	require.NotNil(t, snapshot)
	assert.False(t, snapshot.CollectedAt.IsZero())

	// Our own process must appear in the inventory.
	self_pid := int32(os.Getpid())
	found := false
	for _, record := range snapshot.Processes {
		if record.Pid == self_pid {
			found = true
			break
		}
	}
	assert.True(t, found, "own pid missing from process inventory")
}

func TestFindProcesses(t *testing.T) {
	snapshot := &Snapshot{
		Processes: []*ProcessRecord{
			{Pid: 1, Name: "systemd"},
			{Pid: 100, Name: "sshd"},
			{Pid: 101, Name: "sshd"},
		},
	}

	pids := snapshot.FindProcesses(func(name string) bool {
		return name == "sshd"
	})
	assert.Equal(t, []int32{100, 101}, pids)

	pids = snapshot.FindProcesses(func(name string) bool {
		return false
	})
	assert.Empty(t, pids)
}
