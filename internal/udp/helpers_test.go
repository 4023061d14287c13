package udp

import (
	"bytes"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"
)

const testTimeout = 2 * time.Second

// freePort returns a UDP port on 127.0.0.1 that was free a moment ago.
func freePort(t *testing.T) uint16 {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	port := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	conn.Close()
	return port
}

func loopbackConfig() Config {
	cfg := DefaultConfig()
	cfg.BindAddress = "127.0.0.1"
	return cfg
}

// testClient is an unconnected UDP sender on 127.0.0.1.
type testClient struct {
	t    *testing.T
	conn *net.UDPConn
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to open client socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &testClient{t: t, conn: conn}
}

func (c *testClient) addr() netip.AddrPort {
	ap := c.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func (c *testClient) send(port uint16, payload []byte) {
	c.t.Helper()

	to := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
	if _, err := c.conn.WriteToUDPAddrPort(payload, to); err != nil {
		c.t.Fatalf("Failed to send to port %d: %v", port, err)
	}
}

func (c *testClient) reply(timeout time.Duration) (string, error) {
	buf := make([]byte, 512)
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := c.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// exchange sends payload to port and returns the confirmation.
func (c *testClient) exchange(port uint16, payload []byte) string {
	c.t.Helper()

	c.send(port, payload)
	got, err := c.reply(testTimeout)
	if err != nil {
		c.t.Fatalf("No confirmation from port %d: %v", port, err)
	}
	return got
}

// recordSink collects LogRecords delivered to a subscribed logger.
type recordSink struct {
	ch chan LogRecord
}

func newRecordSink() *recordSink {
	return &recordSink{ch: make(chan LogRecord, 64)}
}

func (r *recordSink) log(rec LogRecord) {
	r.ch <- rec
}

func (r *recordSink) next(t *testing.T) LogRecord {
	t.Helper()

	select {
	case rec := <-r.ch:
		return rec
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for log record")
		return LogRecord{}
	}
}

func (r *recordSink) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()

	select {
	case rec := <-r.ch:
		t.Errorf("Unexpected log record: %s", rec)
	case <-time.After(wait):
	}
}

// dataSink collects payloads delivered to a subscribed data reader.
type dataSink struct {
	ch chan []byte
}

func newDataSink() *dataSink {
	return &dataSink{ch: make(chan []byte, 64)}
}

func (d *dataSink) read(data []byte) {
	d.ch <- data
}

func (d *dataSink) next(t *testing.T) []byte {
	t.Helper()

	select {
	case data := <-d.ch:
		return data
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for data")
		return nil
	}
}

// syncBuffer is a bytes.Buffer safe for use as a shared log writer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recorderCounts is a snapshot of a countingRecorder.
type recorderCounts struct {
	opens        int
	closes       int
	bindFailures map[string]int
	receives     int
	bytes        int
	receiveErrs  int
	confirms     int
	confirmErrs  int
}

// countingRecorder is a StatsRecorder that counts calls.
type countingRecorder struct {
	mu sync.Mutex
	c  recorderCounts
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{c: recorderCounts{bindFailures: make(map[string]int)}}
}

func (r *countingRecorder) RecordSocketOpen(uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c.opens++
}

func (r *countingRecorder) RecordSocketClose(uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c.closes++
}

func (r *countingRecorder) RecordBindFailure(_ uint16, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c.bindFailures[reason]++
}

func (r *countingRecorder) RecordReceive(_ uint16, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c.receives++
	r.c.bytes += n
}

func (r *countingRecorder) RecordReceiveError(uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c.receiveErrs++
}

func (r *countingRecorder) RecordConfirm(uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c.confirms++
}

func (r *countingRecorder) RecordConfirmError(uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c.confirmErrs++
}

func (r *countingRecorder) snapshot() recorderCounts {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.c
	out.bindFailures = make(map[string]int, len(r.c.bindFailures))
	for k, v := range r.c.bindFailures {
		out.bindFailures[k] = v
	}
	return out
}
