package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPort replays canned reads and records every write.
type scriptedPort struct {
	writes   []string
	reads    []scriptedRead
	resets   int
	writeErr error
}

type scriptedRead struct {
	data string
	err  error
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, string(b))
	return len(b), nil
}

// ReadUntil returns nothing, like a read timeout, once the script runs out.
func (p *scriptedPort) ReadUntil(term byte) ([]byte, error) {
	if len(p.reads) == 0 {
		return nil, nil
	}
	r := p.reads[0]
	p.reads = p.reads[1:]
	return []byte(r.data), r.err
}

func (p *scriptedPort) ResetInputBuffer() error { p.resets++; return nil }
func (p *scriptedPort) Close() error            { return nil }
func (p *scriptedPort) IsOpen() bool            { return true }

func reads(data ...string) []scriptedRead {
	out := make([]scriptedRead, len(data))
	for i, d := range data {
		out[i] = scriptedRead{data: d}
	}
	return out
}

// recordingLogger keeps every message for assertions.
type recordingLogger struct {
	debug []string
	info  []string
	errs  []string
	kvs   [][]interface{}
}

func (l *recordingLogger) Debug(msg string, kv ...interface{}) {
	l.debug = append(l.debug, msg)
	l.kvs = append(l.kvs, kv)
}

func (l *recordingLogger) Info(msg string, kv ...interface{}) {
	l.info = append(l.info, msg)
}

func (l *recordingLogger) Error(msg string, kv ...interface{}) {
	l.errs = append(l.errs, msg)
}

func newTestEngine(port Transport, opts ...Option) (*Engine, *[]time.Duration) {
	var slept []time.Duration
	opts = append([]Option{WithSleep(func(d time.Duration) { slept = append(slept, d) })}, opts...)
	return NewEngine(port, opts...), &slept
}

func TestCommandSucceedsFirstTry(t *testing.T) {
	port := &scriptedPort{reads: reads("OK,1,0,0/")}
	eng, _ := newTestEngine(port)

	rec, err := eng.Command("rf")
	require.NoError(t, err)
	assert.Equal(t, []string{"RF\r"}, port.writes)
	assert.Equal(t, true, rec["motor_stall_fault"])
	assert.Equal(t, "OK,1,0,0/", rec.Response())
	assert.Equal(t, 1, port.resets)
}

func TestCommandRetriesTimeouts(t *testing.T) {
	port := &scriptedPort{reads: reads("", "", "OK,0000,10.00/")}
	eng, _ := newTestEngine(port)
	eng.Registry().SetPressureUnit("psi")

	rec, err := eng.Command("cc")
	require.NoError(t, err)
	assert.Equal(t, []string{"CC\r", "CC\r", "CC\r"}, port.writes)
	assert.Equal(t, 0, rec["pressure"])
	assert.Equal(t, 10.0, rec["flowrate"])
}

func TestCommandRetriesMalformedFrames(t *testing.T) {
	port := &scriptedPort{reads: reads("OK,0000,1", "\x00garbage/", "OK/")}
	eng, _ := newTestEngine(port)

	rec, err := eng.Command("ru")
	require.NoError(t, err)
	assert.Len(t, port.writes, 3)
	assert.Equal(t, "OK/", rec.Response())
}

func TestCommandRetriesStrayCarriageReturn(t *testing.T) {
	port := &scriptedPort{reads: reads("OK,0150\r,5.00/", "OK,0150,5.00/")}
	eng, _ := newTestEngine(port)
	eng.Registry().SetPressureUnit("psi")

	rec, err := eng.Command("cc")
	require.NoError(t, err)
	assert.Len(t, port.writes, 2)
	assert.Equal(t, 150, rec["pressure"])
	assert.Equal(t, 5.0, rec["flowrate"])
	assert.Equal(t, "OK,0150,5.00/", rec.Response())
}

func TestCommandCorruptFrameKeepsRawText(t *testing.T) {
	port := &scriptedPort{reads: reads("OK,0150\r,5.00/", "OK,0150\r,5.00/", "OK,0150\r,5.00/")}
	eng, _ := newTestEngine(port)

	_, err := eng.Command("cc")
	var ce *CommunicationError
	require.True(t, errors.As(err, &ce), "want *CommunicationError, got %v", err)
	assert.Equal(t, "OK,0150\r,5.00/", ce.Response)
	assert.Len(t, port.writes, 3)
}

func TestCommandRejectsClearBuffer(t *testing.T) {
	port := &scriptedPort{}
	eng, _ := newTestEngine(port)

	_, err := eng.Command("#")
	assert.ErrorIs(t, err, ErrNoReply)
	assert.Empty(t, port.writes)
}

func TestCommandExhaustsAttempts(t *testing.T) {
	port := &scriptedPort{reads: reads("", "OK,0", "")}
	eng, _ := newTestEngine(port)

	_, err := eng.Command("cc")
	var ce *CommunicationError
	require.True(t, errors.As(err, &ce), "want *CommunicationError, got %v", err)
	assert.Equal(t, "CC", ce.Command)
	assert.Equal(t, 3, ce.Attempts)
	assert.Len(t, port.writes, 3)

	var fe *FrameError
	assert.True(t, errors.As(err, &fe))
}

func TestCommandDeviceErrorIsNotRetried(t *testing.T) {
	port := &scriptedPort{reads: reads("Er/", "OK/")}
	eng, _ := newTestEngine(port)

	_, err := eng.Command("foobar")
	var de *DeviceError
	require.True(t, errors.As(err, &de), "want *DeviceError, got %v", err)
	assert.Equal(t, "Er", de.Code)
	assert.Equal(t, "Er/", de.Response)
	assert.Equal(t, []string{"FOOBAR\r"}, port.writes)
	assert.True(t, IsDeviceError(err))
}

func TestCommandParseErrorIsNotRetried(t *testing.T) {
	port := &scriptedPort{reads: reads("OK,1,0/", "OK,1,0,0/")}
	eng, _ := newTestEngine(port)

	_, err := eng.Command("rf")
	var pe *ParseError
	require.True(t, errors.As(err, &pe), "want *ParseError, got %v", err)
	assert.Equal(t, "OK,1,0/", pe.Response)
	assert.Len(t, port.writes, 1)
}

func TestCommandTransportErrorsAreRetried(t *testing.T) {
	ioErr := errors.New("device not configured")
	port := &scriptedPort{reads: []scriptedRead{{err: ioErr}, {data: "OK/"}}}
	eng, _ := newTestEngine(port)

	_, err := eng.Command("st")
	require.NoError(t, err)
	assert.Len(t, port.writes, 2)

	port = &scriptedPort{writeErr: ioErr}
	eng, _ = newTestEngine(port, WithAttempts(2))
	_, err = eng.Command("st")
	var ce *CommunicationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Attempts)
	assert.ErrorIs(t, err, ioErr)
}

func TestCommandUnknownMnemonicReturnsResponse(t *testing.T) {
	port := &scriptedPort{reads: reads("OK,3,4,5/")}
	eng, _ := newTestEngine(port)

	rec, err := eng.Command("zz")
	require.NoError(t, err)
	assert.Equal(t, Record{"response": "OK,3,4,5/"}, rec)
}

func TestCommandCallOptions(t *testing.T) {
	port := &scriptedPort{reads: reads("", "", "", "", "OK/")}
	eng, slept := newTestEngine(port)

	_, err := eng.Command("ru", Attempts(5), Delay(time.Millisecond))
	require.NoError(t, err)
	assert.Len(t, port.writes, 5)
	// two delays per round trip
	assert.Len(t, *slept, 10)
	for _, d := range *slept {
		assert.Equal(t, time.Millisecond, d)
	}
}

func TestCommandDelays(t *testing.T) {
	port := &scriptedPort{reads: reads("OK/")}
	eng, slept := newTestEngine(port, WithDelays(10*time.Millisecond, 20*time.Millisecond))

	_, err := eng.Command("ru")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *slept)
}

func TestCommandCustomErrorCodes(t *testing.T) {
	port := &scriptedPort{reads: reads("E1/")}
	eng, _ := newTestEngine(port, WithErrorCodes("Er", "E1"))

	_, err := eng.Command("ru")
	var de *DeviceError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "E1", de.Code)
}

func TestWriteSingleAttempt(t *testing.T) {
	port := &scriptedPort{reads: reads("", "OK,NG Version 1.2/")}
	eng, _ := newTestEngine(port)

	_, err := eng.Write("id")
	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	assert.Len(t, port.writes, 1)

	text, err := eng.Write("id")
	require.NoError(t, err)
	assert.Equal(t, "OK,NG Version 1.2/", text)
}

func TestWriteReturnsErrorStatusUntouched(t *testing.T) {
	port := &scriptedPort{reads: reads("Er/")}
	eng, _ := newTestEngine(port)

	text, err := eng.Write("foobar")
	require.NoError(t, err)
	assert.Equal(t, "Er/", text)
}

func TestWriteClearBufferDoesNotRead(t *testing.T) {
	port := &scriptedPort{reads: reads("OK/")}
	eng, _ := newTestEngine(port)

	text, err := eng.Write("#")
	require.NoError(t, err)
	assert.Equal(t, "", text)
	assert.Equal(t, []string{"#\r"}, port.writes)
	assert.Len(t, port.reads, 1)
}

func TestCommandTraceEvents(t *testing.T) {
	port := &scriptedPort{reads: reads("", "OK,1,0,0/")}
	log := &recordingLogger{}
	eng, _ := newTestEngine(port, WithLogger(log))

	_, err := eng.Command("rf")
	require.NoError(t, err)
	assert.Equal(t, []string{"sent", "received", "sent", "received"}, log.debug)
	assert.Equal(t, []string{"attempt failed"}, log.errs)
	last := log.kvs[len(log.kvs)-1]
	assert.Contains(t, last, "OK,1,0,0/")
	assert.Contains(t, last, 2)
}

func TestLoggerDoesNotChangeBehavior(t *testing.T) {
	script := []string{"", "Er/"}

	withLog, _ := newTestEngine(&scriptedPort{reads: reads(script...)}, WithLogger(&recordingLogger{}))
	withoutLog, _ := newTestEngine(&scriptedPort{reads: reads(script...)})

	_, err1 := withLog.Command("ru")
	_, err2 := withoutLog.Command("ru")
	assert.Equal(t, err1, err2)
}

func TestMaxBlock(t *testing.T) {
	eng := NewEngine(&scriptedPort{})
	assert.Equal(t, 3*(30*time.Millisecond+100*time.Millisecond), eng.MaxBlock(100*time.Millisecond))
}

func TestNewEnginePanicsOnNilTransport(t *testing.T) {
	assert.Panics(t, func() { NewEngine(nil) })
}
