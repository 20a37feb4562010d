package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/hplc-pump/internal/protocol"
)

func exchange(t *testing.T, s *Simulator, cmd string) string {
	t.Helper()
	_, err := s.Write(protocol.Encode(cmd))
	require.NoError(t, err)
	b, err := s.ReadUntil(protocol.ResponseEnd)
	require.NoError(t, err)
	return string(b)
}

func newSimEngine(s *Simulator) *protocol.Engine {
	return protocol.NewEngine(s, protocol.WithSleep(func(time.Duration) {}))
}

func TestSimulatorIdentity(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Units: "psi", MaxFlowrate: 10, MaxPressure: 6000})

	assert.Equal(t, "OK,NG Version 3.0.6/", exchange(t, s, "id"))
	assert.Equal(t, "OK,MF:10.00/", exchange(t, s, "MF"))
	assert.Equal(t, "OK,MP:6000/", exchange(t, s, "MP"))
	assert.Equal(t, "OK,psi/", exchange(t, s, "PU"))
	assert.Equal(t, "OK,1.00,6000,0000,psi,0,0,0/", exchange(t, s, "CS"))
	assert.Equal(t, 5, s.Writes())
}

func TestSimulatorRepliesMatchSchemas(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Units: "bar", MaxPressure: 400})
	eng := newSimEngine(s)
	eng.Registry().SetPressureUnit("bar")

	for _, cmd := range []string{"ID", "PI", "MF", "MP", "CS", "PU", "CC", "PR", "RF", "GS", "UC", "UP", "LP", "LS", "RS"} {
		rec, err := eng.Command(cmd)
		require.NoError(t, err, cmd)
		assert.NotEmpty(t, rec.Response(), cmd)
	}
}

func TestSimulatorRunStop(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Units: "psi"})
	eng := newSimEngine(s)
	eng.Registry().SetPressureUnit("psi")

	_, err := eng.Command("RU")
	require.NoError(t, err)
	rec, err := eng.Command("CS")
	require.NoError(t, err)
	running, _ := rec.Bool("is_running")
	assert.True(t, running)

	rec, err = eng.Command("CC")
	require.NoError(t, err)
	p, ok := rec.Int("pressure")
	require.True(t, ok)
	assert.Greater(t, p, 0)

	_, err = eng.Command("ST")
	require.NoError(t, err)
	rec, err = eng.Command("CC")
	require.NoError(t, err)
	p, _ = rec.Int("pressure")
	assert.Equal(t, 0, p)
}

func TestSimulatorFlowrate(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Units: "psi", MaxFlowrate: 10, Precision: 3})
	assert.Equal(t, "OK/", exchange(t, s, "FI2500"))
	assert.Equal(t, "OK,2.500,6000,0000,psi,0,0,0/", exchange(t, s, "CS"))
	assert.Equal(t, "Er/", exchange(t, s, "FI20000"))
}

func TestSimulatorFaultsBlockRun(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Units: "psi"})
	s.SetFaults(true, false, true)

	assert.Equal(t, "OK,1,0,1/", exchange(t, s, "RF"))
	assert.Equal(t, "Er/", exchange(t, s, "RU"))
	assert.Equal(t, "OK/", exchange(t, s, "CF"))
	assert.Equal(t, "OK,0,0,0/", exchange(t, s, "RF"))
	assert.Equal(t, "OK/", exchange(t, s, "RU"))
}

func TestSimulatorPressureLimitScaling(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Units: "MPa", MaxPressure: 41.37})
	assert.Equal(t, "OK,UP:30.00/", exchange(t, s, "UP3000"))
	assert.Equal(t, "OK,LP:1.50/", exchange(t, s, "LP150"))
	assert.Equal(t, "Er/", exchange(t, s, "UP9000"))

	s = NewSimulator(SimulatorConfig{Units: "bar", MaxPressure: 400})
	assert.Equal(t, "OK,UP:250.0/", exchange(t, s, "UP2500"))
}

func TestSimulatorWithoutPressureSensor(t *testing.T) {
	s := NewSimulator(SimulatorConfig{})
	assert.Equal(t, "Er/", exchange(t, s, "PU"))
	assert.Equal(t, "Er/", exchange(t, s, "MP"))
	assert.Equal(t, "Er/", exchange(t, s, "CC"))
	assert.Equal(t, "OK,MF:10.00/", exchange(t, s, "MF"))
}

func TestSimulatorLeakAndSolvent(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Units: "psi"})
	assert.Equal(t, "OK,LS:0/", exchange(t, s, "LS"))
	s.SetLeak(true)
	assert.Equal(t, "OK,LS:1/", exchange(t, s, "LS"))

	assert.Equal(t, "OK,LM:2/", exchange(t, s, "LM2"))
	assert.Equal(t, "Er/", exchange(t, s, "LM7"))

	assert.Equal(t, "OK,46/", exchange(t, s, "RS"))
	assert.Equal(t, "OK/", exchange(t, s, "SS121"))
	assert.Equal(t, "OK,121/", exchange(t, s, "RS"))
}

func TestSimulatorCompensationAndStrokes(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Units: "psi"})
	assert.Equal(t, "OK,UC:1000/", exchange(t, s, "UC"))
	assert.Equal(t, "OK,UC:0950/", exchange(t, s, "UC950"))
	assert.Equal(t, "Er/", exchange(t, s, "UC1200"))

	exchange(t, s, "RU")
	exchange(t, s, "PR")
	exchange(t, s, "PR")
	assert.Equal(t, "OK,GS:2/", exchange(t, s, "GS"))
	assert.Equal(t, "OK/", exchange(t, s, "ZS"))
	assert.Equal(t, "OK,GS:0/", exchange(t, s, "GS"))
}

func TestSimulatorUnknownCommand(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Units: "psi"})
	assert.Equal(t, "Er/", exchange(t, s, "QQ"))
}

func TestSimulatorClearBufferHasNoReply(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Units: "psi"})
	_, err := s.Write(protocol.Encode("#"))
	require.NoError(t, err)
	b, err := s.ReadUntil(protocol.ResponseEnd)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestSimulatorDroppedRepliesAreRetried(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Units: "psi"})
	eng := newSimEngine(s)
	s.DropReplies(2)

	rec, err := eng.Command("RF")
	require.NoError(t, err)
	assert.Equal(t, "OK,0,0,0/", rec.Response())
	assert.Equal(t, 3, s.Writes())
}

func TestSimulatorGarbledRepliesAreRetried(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Units: "psi"})
	eng := newSimEngine(s)
	s.GarbleReplies(3)

	_, err := eng.Command("RF")
	var ce *protocol.CommunicationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)
	assert.Equal(t, "OK,0", ce.Response)
}

func TestSimulatorClosed(t *testing.T) {
	s := NewSimulator(SimulatorConfig{})
	require.NoError(t, s.Close())
	assert.False(t, s.IsOpen())

	_, err := s.Write([]byte("ID\r"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.ReadUntil('/')
	assert.ErrorIs(t, err, ErrClosed)
}
