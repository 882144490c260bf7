package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/glove_capture/internal/buffer"
	"github.com/relabs-tech/glove_capture/internal/decoder"
	"github.com/relabs-tech/glove_capture/internal/link"
)

type fakePort struct {
	r *io.PipeReader

	mu      sync.Mutex
	written bytes.Buffer
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}
func (p *fakePort) Close() error { return p.r.Close() }

func (p *fakePort) sent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func next(t *testing.T, ch <-chan link.Event) link.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return nil
	}
}

func newSerialWithPipe() (*Serial, *fakePort, *io.PipeWriter) {
	r, w := io.Pipe()
	port := &fakePort{r: r}
	s := NewSerial("/dev/ttyACM0", 115200)
	s.Open = func(o serial.OpenOptions) (io.ReadWriteCloser, error) { return port, nil }
	return s, port, w
}

func TestSerialEmitsSetupEvents(t *testing.T) {
	s, port, w := newSerialWithPipe()
	defer w.Close()

	require.NoError(t, s.Connect("glove-01"))
	assert.Equal(t, link.ConnectionChanged{Connected: true}, next(t, s.Events()))

	require.NoError(t, s.RefreshCache())
	require.NoError(t, s.DiscoverServices())
	disc := next(t, s.Events()).(link.ServicesDiscovered)
	require.Len(t, disc.Services, 1)
	assert.Equal(t, link.ServiceUUID, disc.Services[0].UUID)

	require.NoError(t, s.EnableNotifications(link.NotifyUUID))
	assert.Equal(t, link.DescriptorWritten{Characteristic: link.NotifyUUID}, next(t, s.Events()))

	go w.Write([]byte("1,2,3\n"))
	data := next(t, s.Events()).(link.DataReceived)
	assert.Equal(t, "1,2,3\n", string(data.Data))

	require.NoError(t, s.Write(link.WriteUUID, []byte("START")))
	ack := next(t, s.Events()).(link.CharacteristicWritten)
	assert.Equal(t, "START", string(ack.Value))
	assert.NoError(t, ack.Err)
	assert.Equal(t, "START\n", port.sent())

	require.NoError(t, s.Disconnect())
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event after disconnect: %#v", ev)
	case <-time.After(20 * time.Millisecond):
	}
	assert.Error(t, s.Write(link.WriteUUID, []byte("STOP")))
}

func TestSerialReportsReadFailure(t *testing.T) {
	s, _, w := newSerialWithPipe()

	require.NoError(t, s.Connect("glove-01"))
	next(t, s.Events())
	require.NoError(t, s.EnableNotifications(link.NotifyUUID))
	next(t, s.Events())

	w.CloseWithError(errors.New("usb unplugged"))
	ev := next(t, s.Events()).(link.ConnectionChanged)
	assert.False(t, ev.Connected)
	assert.Error(t, ev.Err)
}

func TestSerialOpenFailure(t *testing.T) {
	s := NewSerial("/dev/none", 9600)
	s.Open = func(serial.OpenOptions) (io.ReadWriteCloser, error) { return nil, errors.New("no such file") }
	assert.Error(t, s.Connect("glove-01"))
	assert.Error(t, s.DiscoverServices())
}

func TestMockLineIsValidRecord(t *testing.T) {
	for _, ts := range []float64{0, 0.5, 2.5, 5, 7.25, 60, 119.9} {
		line := MockLine(ts)
		require.True(t, bytes.HasSuffix([]byte(line), []byte("\n")))
		_, err := decoder.ParseLine(line[:len(line)-1])
		assert.NoError(t, err, "t=%v", ts)
	}
}

func TestMockDrivesSessionToStreaming(t *testing.T) {
	m := NewMock()
	m.Rate = 200
	buf := buffer.New(500)

	cfg := link.DefaultConfig()
	cfg.DeviceID = "mock"
	cfg.RefreshDelay = time.Millisecond
	cfg.DiscoveryDelay = time.Millisecond
	cfg.DescriptorDelay = time.Millisecond
	s := link.NewSession(m, cfg, decoder.New(), buf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.NoError(t, s.Connect())
	require.Eventually(t, func() bool { return s.State() == link.Ready }, time.Second, time.Millisecond)

	require.NoError(t, s.SetStreaming(true))
	require.Eventually(t, s.Streaming, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return buf.Len() >= 5 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Disconnect())
	assert.Equal(t, link.Disconnected, s.State())
	assert.Equal(t, 0, buf.Len())
}
