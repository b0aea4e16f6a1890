package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"lab-access/backend/internal/telemetry/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaProducer_MissingConfigReturnsNil(t *testing.T) {
	if p := NewKafkaProducer(nil, "topic"); p != nil {
		t.Error("NewKafkaProducer(nil brokers) should return nil")
	}
	if p := NewKafkaProducer([]string{"localhost:9092"}, ""); p != nil {
		t.Error("NewKafkaProducer(empty topic) should return nil")
	}
}

func TestKafkaProducer_NilSafe(t *testing.T) {
	var p *KafkaProducer
	if err := p.Emit(context.Background(), &domain.Event{}); err != nil {
		t.Errorf("nil Emit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

func TestKafkaProducer_EmitWritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, topic: "provisioning"}
	event := &domain.Event{EventType: "account_provisioned", Identifier: "S1", Role: "STUDENT"}

	if err := p.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "S1" {
		t.Errorf("key = %q, want %q", w.msgs[0].Key, "S1")
	}
	var got domain.Event
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.EventType != "account_provisioned" || got.Role != "STUDENT" {
		t.Errorf("payload = %+v", got)
	}
}

func TestKafkaProducer_EmitReturnsWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaProducer{writer: w, topic: "provisioning"}
	if err := p.Emit(context.Background(), &domain.Event{EventType: "x"}); err == nil {
		t.Error("Emit should return the write error")
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close = %v, closed = %v", err, w.closed)
	}
}
