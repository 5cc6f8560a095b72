package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veldrin/server/internal/game/power"
)

func writeTableFile(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "powers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadPowerTable(t *testing.T) {
	path := writeTableFile(t, `
- id: 1001
  name: PowerBolt
  design_state: approved
  script: power_bolt
- id: 1002
  name: ThrowRock
  blueprint: ThrowablePower
  design_state: approved
- id: 1005
  name: PrototypeStorm
  design_state: development
`)

	table, err := LoadPowerTable(path)
	require.NoError(t, err)
	assert.Equal(t, 3, table.Count())

	bolt := table.Get(1001)
	require.NotNil(t, bolt)
	assert.Equal(t, "PowerBolt", bolt.Name)
	assert.Equal(t, "power_bolt", bolt.Script)

	// Omitted blueprint defaults to the plain power class.
	assert.Equal(t, power.BlueprintPower, table.BlueprintClass(1001))
	assert.Equal(t, power.BlueprintThrowable, table.BlueprintClass(1002))
	assert.Equal(t, "", table.BlueprintClass(9999))

	assert.True(t, table.IsApproved(1001))
	assert.False(t, table.IsApproved(1005))
	assert.False(t, table.IsApproved(9999))
	assert.Nil(t, table.Get(9999))
}

func TestLoadPowerTableRejectsDuplicateIDs(t *testing.T) {
	path := writeTableFile(t, `
- id: 1001
  name: A
- id: 1001
  name: B
`)

	_, err := LoadPowerTable(path)
	assert.ErrorContains(t, err, "duplicate prototype id 1001")
}

func TestLoadPowerTableMissingFile(t *testing.T) {
	_, err := LoadPowerTable(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadPowerTableBadYAML(t *testing.T) {
	path := writeTableFile(t, "{not a list")
	_, err := LoadPowerTable(path)
	assert.ErrorContains(t, err, "parse power table")
}

func TestNewPowerTable(t *testing.T) {
	table := NewPowerTable([]PowerPrototype{
		{ID: 1, DesignState: DesignStateApproved},
		{ID: 2, Blueprint: power.BlueprintComboEffect},
	})

	assert.Equal(t, 2, table.Count())
	assert.True(t, table.IsApproved(1))
	assert.Equal(t, power.BlueprintComboEffect, table.BlueprintClass(2))
	assert.Equal(t, power.BlueprintPower, table.BlueprintClass(1))
}

func TestProgressionForFiltersByLevelAndApproval(t *testing.T) {
	table := NewPowerTable([]PowerPrototype{
		{ID: 1, DesignState: DesignStateApproved, Progression: true, MinLevel: 1},
		{ID: 2, DesignState: DesignStateApproved, Progression: true, MinLevel: 10},
		{ID: 3, DesignState: "development", Progression: true, MinLevel: 1},
		{ID: 4, DesignState: DesignStateApproved, Progression: false, MinLevel: 1},
	})

	assert.Equal(t, []power.PrototypeID{1}, table.ProgressionFor(5))
	assert.Equal(t, []power.PrototypeID{1, 2}, table.ProgressionFor(10))
	assert.Empty(t, table.ProgressionFor(0))
}

func TestShippedPowerTableLoads(t *testing.T) {
	table, err := LoadPowerTable(filepath.Join("..", "..", "data", "yaml", "power_list.yaml"))
	require.NoError(t, err)
	assert.Greater(t, table.Count(), 0)
	assert.True(t, table.IsApproved(1001))
}
