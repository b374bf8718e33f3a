package relay

import (
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gps-relay/internal/logsink"
	"gps-relay/internal/mock"
	"gps-relay/internal/models"
)

type pushed struct {
	provider string
	fix      models.LocationFix
	wall     time.Time
	elapsed  time.Duration
}

// recordingSink wraps a registry and reports every successful push.
type recordingSink struct {
	*mock.Registry
	pushes  chan pushed
	mu      sync.Mutex
	pushErr error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{Registry: mock.NewRegistry(), pushes: make(chan pushed, 16)}
}

func (s *recordingSink) Push(name string, fix models.LocationFix, wall time.Time, elapsed time.Duration) error {
	s.mu.Lock()
	perr := s.pushErr
	s.mu.Unlock()
	if perr != nil {
		return perr
	}
	if err := s.Registry.Push(name, fix, wall, elapsed); err != nil {
		return err
	}
	s.pushes <- pushed{provider: name, fix: fix, wall: wall, elapsed: elapsed}
	return nil
}

func startReceiver(t *testing.T, sink mock.Sink, logs logsink.Appender) (*Receiver, *net.UDPConn) {
	t.Helper()
	r := NewReceiver(sink, "", logs, zerolog.Nop())
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Stop)

	port := r.Addr().(*net.UDPAddr).Port
	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return r, client
}

func send(t *testing.T, conn *net.UDPConn, payload string) {
	t.Helper()
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatal(err)
	}
}

func waitPush(t *testing.T, sink *recordingSink) pushed {
	t.Helper()
	select {
	case p := <-sink.pushes:
		return p
	case <-time.After(time.Second):
		t.Fatal("no push within 1s")
	}
	return pushed{}
}

func expectNoPush(t *testing.T, sink *recordingSink) {
	t.Helper()
	select {
	case p := <-sink.pushes:
		t.Fatalf("unexpected push %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReceiverPushesFix(t *testing.T) {
	sink := newRecordingSink()
	logs := logsink.NewBuffer(16)
	r, client := startReceiver(t, sink, logs)

	if r.State() != Listening {
		t.Fatalf("state = %v", r.State())
	}
	if !sink.Registered(models.DefaultMockProviderName) {
		t.Fatal("mock provider not registered")
	}

	before := time.Now()
	send(t, client, "10.0,20.0")
	p := waitPush(t, sink)

	if p.provider != models.DefaultMockProviderName || p.fix.Latitude != 10 || p.fix.Longitude != 20 {
		t.Errorf("push = %+v", p)
	}
	if p.wall.Before(before) || !p.fix.Timestamp.Equal(p.wall) {
		t.Errorf("wall = %v, fix time = %v", p.wall, p.fix.Timestamp)
	}
	if p.elapsed <= 0 {
		t.Errorf("elapsed = %v", p.elapsed)
	}
	expectNoPush(t, sink)

	found := false
	for _, e := range logs.Entries() {
		if e.Message == "Received Location: Lat=10, Lon=20" {
			found = true
		}
	}
	if !found {
		t.Errorf("log entries %v", logs.Entries())
	}
}

func TestReceiverDiscardsOutOfRange(t *testing.T) {
	sink := newRecordingSink()
	r, client := startReceiver(t, sink, nil)

	send(t, client, "91.0,0.0")
	send(t, client, "0.0,181.0")
	send(t, client, "1.0,1.0")

	p := waitPush(t, sink)
	if p.fix.Latitude != 1 {
		t.Errorf("push = %+v", p)
	}
	expectNoPush(t, sink)
	if st := r.Stats(); st.Rejected != 2 || st.Pushed != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestReceiverSurvivesMalformedPayloads(t *testing.T) {
	sink := newRecordingSink()
	r, client := startReceiver(t, sink, nil)

	for _, bad := range []string{"hello", "1.0", "1.0,2.0,3.0", "abc,def"} {
		send(t, client, bad)
	}
	send(t, client, "45.5,-122.25")

	p := waitPush(t, sink)
	if p.fix.Latitude != 45.5 || p.fix.Longitude != -122.25 {
		t.Errorf("push = %+v", p)
	}
	if r.State() != Listening {
		t.Errorf("state = %v", r.State())
	}
	if st := r.Stats(); st.ParseErrors != 4 {
		t.Errorf("stats = %+v", st)
	}
}

func TestReceiverSinkErrorKeepsListening(t *testing.T) {
	sink := newRecordingSink()
	sink.pushErr = errors.New("sink unavailable")
	r, client := startReceiver(t, sink, nil)

	send(t, client, "1.0,1.0")
	deadline := time.Now().Add(time.Second)
	for r.Stats().SinkErrors == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Stats().SinkErrors != 1 {
		t.Fatalf("stats = %+v", r.Stats())
	}

	sink.mu.Lock()
	sink.pushErr = nil
	sink.mu.Unlock()

	send(t, client, "2.0,2.0")
	if p := waitPush(t, sink); p.fix.Latitude != 2 {
		t.Errorf("push = %+v", p)
	}
}

func waitSessions(t *testing.T, r *Receiver, n uint64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for r.Stats().Sessions < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := r.Stats().Sessions; got != n {
		t.Fatalf("sessions = %d, want %d", got, n)
	}
}

func TestReceiverStartTwice(t *testing.T) {
	sink := newRecordingSink()
	r, _ := startReceiver(t, sink, nil)
	addr := r.Addr().String()

	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	waitSessions(t, r, 1)
	if r.Addr().String() != addr {
		t.Errorf("addr = %v, want %s", r.Addr(), addr)
	}
}

func TestReceiverStopAndRestart(t *testing.T) {
	sink := newRecordingSink()
	logs := logsink.NewBuffer(16)
	r := NewReceiver(sink, "test-provider", logs, zerolog.Nop())

	// never started
	r.Stop()
	if logs.Total() != 0 {
		t.Errorf("stop on idle receiver logged %v", logs.Entries())
	}

	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	if err := r.SetProviderName("other"); err == nil {
		t.Error("provider change while listening must fail")
	}
	r.Stop()
	r.Stop()

	if r.State() != Idle || r.Addr() != nil {
		t.Errorf("state = %v, addr = %v", r.State(), r.Addr())
	}
	if sink.Registered("test-provider") {
		t.Error("provider still registered after stop")
	}

	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: r.Addr().(*net.UDPAddr).Port})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	send(t, client, "3.0,4.0")
	if p := waitPush(t, sink); p.provider != "test-provider" {
		t.Errorf("push = %+v", p)
	}
	if r.Stats().Sessions != 2 {
		t.Errorf("sessions = %d", r.Stats().Sessions)
	}
}

func TestReceiverBindFailure(t *testing.T) {
	taken, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	sink := newRecordingSink()
	r := NewReceiver(sink, "", nil, zerolog.Nop())
	err = r.Start(uint16(taken.LocalAddr().(*net.UDPAddr).Port))

	var terr *TransportError
	if !errors.As(err, &terr) || terr.Op != "listen" {
		t.Fatalf("Start() = %v", err)
	}
	if r.State() != Idle || sink.Registered(models.DefaultMockProviderName) {
		t.Error("failed start must leave the receiver idle and unregistered")
	}
}

func TestReceiverWithSender(t *testing.T) {
	sink := newRecordingSink()
	r, _ := startReceiver(t, sink, nil)

	source := mock.NewRegistry()
	_ = source.RegisterProvider("upstream")

	s := NewSender(source, nil, zerolog.Nop())
	cfg := models.DefaultRelayConfig()
	cfg.ProviderName = "upstream"
	cfg.DestinationPort = uint16(r.Addr().(*net.UDPAddr).Port)
	if err := s.Start(cfg); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	_ = source.Push("upstream", models.NewLocationFix(52.52, 13.405), time.Now(), 0)
	p := waitPush(t, sink)
	if p.fix.Latitude != 52.52 || p.fix.Longitude != 13.405 {
		t.Errorf("push = %+v", p)
	}
}

// orderedSink records the order of sink calls.
type orderedSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *orderedSink) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *orderedSink) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *orderedSink) RegisterProvider(name string) error {
	s.record("register")
	return nil
}

func (s *orderedSink) UnregisterProvider(name string) error {
	s.record("unregister")
	return nil
}

func (s *orderedSink) Push(name string, fix models.LocationFix, wall time.Time, elapsed time.Duration) error {
	s.record("push")
	return nil
}

func TestReceiverStopDropsFixInFlight(t *testing.T) {
	sink := &orderedSink{}
	r := NewReceiver(sink, "", nil, zerolog.Nop())

	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})
	r.now = func() time.Time {
		once.Do(func() { close(entered) })
		<-release
		return time.Now()
	}

	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: r.Addr().(*net.UDPAddr).Port})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	send(t, client, "1.0,2.0")
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("datagram not handled")
	}

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	deadline := time.Now().Add(time.Second)
	for r.State() != Idle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case <-stopped:
		t.Fatal("Stop returned before the receive loop exited")
	default:
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	calls := sink.Calls()
	if len(calls) != 2 || calls[0] != "register" || calls[1] != "unregister" {
		t.Errorf("sink calls = %v", calls)
	}
	if st := r.Stats(); st.Received != 1 || st.Pushed != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestReceiverReadFailureEndsSession(t *testing.T) {
	sink := newRecordingSink()
	logs := logsink.NewBuffer(16)
	r := NewReceiver(sink, "", logs, zerolog.Nop())
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Stop)
	waitSessions(t, r, 1)

	r.mu.Lock()
	sess := r.sess
	r.mu.Unlock()
	port := uint16(sess.conn.LocalAddr().(*net.UDPAddr).Port)

	// fail the blocked read without going through Stop
	_ = sess.conn.Close()

	select {
	case <-sess.done:
	case <-time.After(time.Second):
		t.Fatal("receive loop did not exit")
	}
	if r.State() != Idle || r.Addr() != nil {
		t.Errorf("state = %v, addr = %v", r.State(), r.Addr())
	}
	if sink.Registered(models.DefaultMockProviderName) {
		t.Error("provider still registered after read failure")
	}

	found := false
	for _, e := range logs.Entries() {
		if strings.HasPrefix(e.Message, "Error receiving UDP packet: receive") {
			found = true
		}
	}
	if !found {
		t.Errorf("log entries %v", logs.Entries())
	}

	if err := r.Start(port); err != nil {
		t.Fatalf("restart on released port: %v", err)
	}
	waitSessions(t, r, 2)

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(port)})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	send(t, client, "5.0,6.0")
	if p := waitPush(t, sink); p.fix.Latitude != 5 {
		t.Errorf("push = %+v", p)
	}
}
