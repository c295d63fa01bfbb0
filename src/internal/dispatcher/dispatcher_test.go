package dispatcher

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/maksimkurb/keen-dnsguard/src/internal/blocklist"
	"github.com/maksimkurb/keen-dnsguard/src/internal/dnsmsg"
	"github.com/maksimkurb/keen-dnsguard/src/internal/errors"
	"github.com/maksimkurb/keen-dnsguard/src/internal/mocks"
)

func testBlocklist(t *testing.T) *blocklist.BlockList {
	t.Helper()
	bl, err := blocklist.Load(blocklist.StringSource{
		SourceName: "test",
		Lines:      []string{"127.0.0.1 ads.example.com", "127.0.0.1 tracker.example.net"},
	})
	if err != nil {
		t.Fatalf("Failed to load blocklist: %v", err)
	}
	return bl
}

func queryFrame(t *testing.T, id uint16, name string) []byte {
	t.Helper()
	frame, err := mocks.BuildQueryFrame(id, name, dns.TypeA)
	if err != nil {
		t.Fatalf("Failed to build frame: %v", err)
	}
	return frame
}

func newTestDispatcher(t *testing.T, up Exchanger, opts Options) (*Dispatcher, *mocks.FrameRecorder) {
	t.Helper()
	out := mocks.NewFrameRecorder()
	opts.Blocklist = testBlocklist(t)
	opts.Upstream = up
	opts.Writer = out

	d := New(opts)
	t.Cleanup(func() { d.Shutdown(time.Second) })
	return d, out
}

func TestDispatcher_BlockedQueryAnsweredLocally(t *testing.T) {
	up := mocks.NewMockExchanger()
	d, out := newTestDispatcher(t, up, Options{})

	if err := d.Submit(queryFrame(t, 0x1111, "ADS.example.com.")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	frames, err := out.WaitFrames(1, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	payload, src, dst, err := mocks.ReplyPayload(frames[0])
	if err != nil {
		t.Fatalf("Reply frame is not IPv4/UDP: %v", err)
	}
	if src != "192.168.50.5:53" || dst != "192.168.50.1:40123" {
		t.Errorf("Addresses not swapped: src=%s dst=%s", src, dst)
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(payload); err != nil {
		t.Fatalf("Failed to unpack reply: %v", err)
	}
	if msg.Id != 0x1111 || !msg.Response {
		t.Errorf("Unexpected header: id=%04x response=%v", msg.Id, msg.Response)
	}
	if len(msg.Answer) != 1 {
		t.Fatalf("Expected 1 answer, got %d", len(msg.Answer))
	}
	a, ok := msg.Answer[0].(*dns.A)
	if !ok {
		t.Fatalf("Expected A record, got %T", msg.Answer[0])
	}
	if a.A.String() != "127.0.0.1" || a.Hdr.Ttl != dnsmsg.BlockedTTL {
		t.Errorf("Unexpected answer %s", a)
	}

	if up.Calls() != 0 {
		t.Errorf("Blocked query must not reach upstream, got %d calls", up.Calls())
	}
	if s := d.Stats(); s.Blocked != 1 || s.Received != 1 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestDispatcher_PermittedQueryRelayedVerbatim(t *testing.T) {
	var upstreamReply []byte
	up := mocks.NewMockExchanger()
	up.ExchangeFunc = func(ctx context.Context, q *dnsmsg.Query, payload []byte) ([]byte, error) {
		reply, err := mocks.PackAnswer(payload, "198.51.100.9", 42)
		upstreamReply = reply
		return reply, err
	}
	d, out := newTestDispatcher(t, up, Options{Workers: 1})

	if err := d.Submit(queryFrame(t, 0x2222, "www.example.org")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	frames, err := out.WaitFrames(1, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	payload, _, _, err := mocks.ReplyPayload(frames[0])
	if err != nil {
		t.Fatalf("Reply frame is not IPv4/UDP: %v", err)
	}
	if !bytes.Equal(payload, upstreamReply) {
		t.Errorf("Upstream reply was modified:\n got %x\nwant %x", payload, upstreamReply)
	}
	if s := d.Stats(); s.Forwarded != 1 {
		t.Errorf("Expected 1 forwarded, got %+v", s)
	}
}

func TestDispatcher_MalformedFrameDropped(t *testing.T) {
	up := mocks.NewMockExchanger()
	d, out := newTestDispatcher(t, up, Options{})

	if err := d.Submit([]byte{0x45, 0, 0, 5, 0}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	payload, _ := mocks.PackQuery(1, "example.com", dns.TypeA)
	notDNS, _ := mocks.BuildFrame(payload[:5])
	if err := d.Submit(notDNS); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Stats().Dropped < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s := d.Stats(); s.Dropped != 2 {
		t.Errorf("Expected 2 dropped, got %+v", s)
	}
	if len(out.Frames()) != 0 {
		t.Errorf("Malformed frames must not be answered")
	}
	if up.Calls() != 0 {
		t.Errorf("Malformed frames must not reach upstream")
	}
}

func TestDispatcher_StalledUpstreamDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	up := mocks.NewMockExchanger()
	up.ExchangeFunc = func(ctx context.Context, q *dnsmsg.Query, payload []byte) ([]byte, error) {
		if q.Domain() == "slow.example.com" {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return mocks.PackAnswer(payload, "198.51.100.1", 60)
	}
	d, out := newTestDispatcher(t, up, Options{Workers: 4})
	defer close(release)

	if err := d.Submit(queryFrame(t, 1, "slow.example.com")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := d.Submit(queryFrame(t, 2, "fast.example.com")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := d.Submit(queryFrame(t, 3, "ads.example.com")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	frames, err := out.WaitFrames(2, 2*time.Second)
	if err != nil {
		t.Fatalf("Other queries were held up by the stalled one: %v", err)
	}
	for _, f := range frames {
		payload, _, _, _ := mocks.ReplyPayload(f)
		msg := new(dns.Msg)
		if err := msg.Unpack(payload); err != nil {
			t.Fatalf("Failed to unpack reply: %v", err)
		}
		if msg.Id == 1 {
			t.Error("Stalled query answered before release")
		}
	}
}

func TestDispatcher_QueueFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	up := mocks.NewMockExchanger()
	up.ExchangeFunc = func(ctx context.Context, q *dnsmsg.Query, payload []byte) ([]byte, error) {
		started <- struct{}{}
		<-release
		return mocks.PackAnswer(payload, "198.51.100.1", 60)
	}
	d, _ := newTestDispatcher(t, up, Options{Workers: 1, QueueSize: 1})

	if err := d.Submit(queryFrame(t, 1, "one.example.com")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started

	// The worker is busy; one slot is left in the queue
	if err := d.Submit(queryFrame(t, 2, "two.example.com")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	err := d.Submit(queryFrame(t, 3, "three.example.com"))
	if !stderrors.Is(err, errors.ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	close(release)
	<-started

	if s := d.Stats(); s.Received != 3 || s.Dropped != 1 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestDispatcher_ShutdownCancelsStalledExchange(t *testing.T) {
	started := make(chan struct{})
	up := mocks.NewMockExchanger()
	up.ExchangeFunc = func(ctx context.Context, q *dnsmsg.Query, payload []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d, out := newTestDispatcher(t, up, Options{Workers: 2})

	if err := d.Submit(queryFrame(t, 1, "stuck.example.com")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started

	start := time.Now()
	if !d.Shutdown(2 * time.Second) {
		t.Fatal("Workers did not stop within grace")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown took %v", elapsed)
	}

	if err := d.Submit(queryFrame(t, 2, "late.example.com")); !stderrors.Is(err, ErrShutdown) {
		t.Errorf("Expected ErrShutdown after shutdown, got %v", err)
	}
	if len(out.Frames()) != 0 {
		t.Error("Cancelled query must not be answered")
	}
	if s := d.Stats(); s.Failed != 1 {
		t.Errorf("Expected 1 failed, got %+v", s)
	}

	// Repeated shutdown is a no-op
	if !d.Shutdown(time.Millisecond) {
		t.Error("Second Shutdown reported failure")
	}
}

func TestDispatcher_UpstreamFailureCounted(t *testing.T) {
	up := mocks.NewMockExchanger()
	up.ExchangeFunc = func(ctx context.Context, q *dnsmsg.Query, payload []byte) ([]byte, error) {
		return nil, errors.NewUpstreamError("connection refused", nil)
	}
	d, out := newTestDispatcher(t, up, Options{Workers: 1})

	if err := d.Submit(queryFrame(t, 9, "example.com")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Stats().Failed == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s := d.Stats(); s.Failed != 1 || s.Forwarded != 0 {
		t.Errorf("Unexpected stats %+v", s)
	}
	if len(out.Frames()) != 0 {
		t.Error("Failed query must not be answered")
	}
}

func TestDispatcher_WriteFailureCounted(t *testing.T) {
	up := mocks.NewMockExchanger()
	d, out := newTestDispatcher(t, up, Options{Workers: 1})
	out.WriteFunc = func(frame []byte) (int, error) {
		return 0, stderrors.New("tun gone")
	}

	if err := d.Submit(queryFrame(t, 9, "ads.example.com")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Stats().Failed == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s := d.Stats(); s.Failed != 1 {
		t.Errorf("Expected write failure counted, got %+v", s)
	}
}
