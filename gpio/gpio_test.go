package gpio

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSysfs lays out a directory that looks like an already exported pin.
func fakeSysfs(t *testing.T, pins ...int) string {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "export"), nil, 0644))
	for _, pin := range pins {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "gpio"+strconv.Itoa(pin)), 0755))
	}
	return root
}

func readValue(t *testing.T, root string, pin int) string {
	b, err := os.ReadFile(filepath.Join(root, "gpio"+strconv.Itoa(pin), "value"))
	require.NoError(t, err)
	return string(b)
}

func TestSysfsSetupAndWrite(t *testing.T) {
	root := fakeSysfs(t, 66)
	s := NewSysfs(root)
	defer s.Close()

	require.NoError(t, s.Setup(66))
	dir, err := os.ReadFile(filepath.Join(root, "gpio66", "direction"))
	require.NoError(t, err)
	assert.Equal(t, "out", string(dir))
	assert.Equal(t, "0", readValue(t, root, 66))

	require.NoError(t, s.Write(66, true))
	assert.Equal(t, "1", readValue(t, root, 66))

	assert.Error(t, s.Write(23, true))
}

func TestSysfsExportsMissingPin(t *testing.T) {
	root := fakeSysfs(t)
	s := NewSysfs(root)
	defer s.Close()

	// nothing creates gpio23 in a plain directory, so setup fails after export:
	assert.Error(t, s.Setup(23))
	b, err := os.ReadFile(filepath.Join(root, "export"))
	require.NoError(t, err)
	assert.Equal(t, "23", string(b))
}

func TestValvesAllOff(t *testing.T) {
	m := NewMock()
	v, err := NewValves(m, DefaultPins())
	require.NoError(t, err)

	require.NoError(t, v.Rise(true))
	require.NoError(t, v.Fall(true))
	require.NoError(t, v.Pulse(true))
	assert.True(t, m.Level(PinRiseL))
	assert.True(t, m.Level(PinRiseR))

	require.NoError(t, v.AllOff())
	for _, pin := range []int{PinRiseL, PinRiseR, PinFall, PinPulse} {
		assert.False(t, m.Level(pin), "pin %d", pin)
	}
}
