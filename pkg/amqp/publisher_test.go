package amqp

import (
	"context"
	"testing"
)

func TestNewPublisherValidates(t *testing.T) {
	if _, err := NewPublisher(Config{Exchange: "x"}); err == nil {
		t.Fatalf("expected error without dsn")
	}
	if _, err := NewPublisher(Config{DSN: "amqp://localhost"}); err == nil {
		t.Fatalf("expected error without exchange")
	}
}

func TestPublishAfterClose(t *testing.T) {
	p := &Publisher{cfg: Config{Exchange: "x"}}
	_ = p.Close()
	if err := p.Publish(context.Background(), "balance.changed", map[string]int{"v": 1}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

type fakeConn struct{ closes int }

func (c *fakeConn) Close() error {
	c.closes++
	return nil
}

func TestSwapClosesReplacedConnection(t *testing.T) {
	p := &Publisher{cfg: Config{Exchange: "x"}}
	first, second := &fakeConn{}, &fakeConn{}

	if err := p.swap(first, nil); err != nil {
		t.Fatalf("first swap: %v", err)
	}
	if err := p.swap(second, nil); err != nil {
		t.Fatalf("second swap: %v", err)
	}
	if first.closes != 1 || second.closes != 0 {
		t.Fatalf("expected only the replaced conn closed, got first=%d second=%d", first.closes, second.closes)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if second.closes != 1 {
		t.Fatalf("expected Close to release the current conn, got %d", second.closes)
	}

	late := &fakeConn{}
	if err := p.swap(late, nil); err != ErrClosed || late.closes != 1 {
		t.Fatalf("expected reconnect after Close to be rejected, err=%v closes=%d", err, late.closes)
	}
}
