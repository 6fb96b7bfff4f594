package grouper

import (
	"testing"

	"github.com/smoothtask/smoothtask/internal/model"
	"github.com/stretchr/testify/require"
)

func TestGroupIDStableAcrossTicks(t *testing.T) {
	g := New()
	snap1 := &model.Snapshot{Processes: []model.ProcessRecord{
		{PID: 10, SystemdUnit: "app.service", StartTime: 5},
		{PID: 11, SystemdUnit: "app.service", StartTime: 6},
	}}
	g.Group(snap1, map[int]int{11: 10}, nil)
	id1 := snap1.Processes[0].GroupID

	snap2 := &model.Snapshot{Processes: []model.ProcessRecord{
		{PID: 10, SystemdUnit: "app.service", StartTime: 5},
		{PID: 11, SystemdUnit: "app.service", StartTime: 6},
		{PID: 12, SystemdUnit: "app.service", StartTime: 7},
	}}
	g.Group(snap2, map[int]int{11: 10, 12: 10}, nil)
	id2 := snap2.Processes[0].GroupID

	require.Equal(t, id1, id2)
	require.Len(t, snap2.Groups, 1)
	require.ElementsMatch(t, []int{10, 11, 12}, snap2.Groups[0].Members)
}

func TestEveryProcessBelongsToExactlyOneGroup(t *testing.T) {
	g := New()
	snap := &model.Snapshot{Processes: []model.ProcessRecord{
		{PID: 1, SystemdUnit: "a.service"},
		{PID: 2, SystemdUnit: "b.service"},
		{PID: 3},
	}}
	g.Group(snap, map[int]int{}, nil)

	seen := make(map[int]int)
	for _, gr := range snap.Groups {
		for _, m := range gr.Members {
			seen[m]++
		}
	}
	for _, p := range snap.Processes {
		require.Equal(t, 1, seen[p.PID], "pid %d must belong to exactly one group", p.PID)
	}
}

func TestContainerCgroupTakesPrecedenceOverUnit(t *testing.T) {
	g := New()
	cid := "ab0000000000000000000000000000000000000000000000000000000000ff01"[:64]
	snap := &model.Snapshot{Processes: []model.ProcessRecord{
		{PID: 1, SystemdUnit: "docker.service", CgroupPath: "/system.slice/docker-" + cid + ".scope"},
	}}
	g.Group(snap, map[int]int{}, nil)
	require.Len(t, snap.Groups, 1)
	require.Contains(t, g.keyToID, "container:docker-"+cid+".scope")
}
