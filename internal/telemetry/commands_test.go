package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/cardpass-core/internal/audit"
	"github.com/nerrad567/cardpass-core/internal/bridges/lmpi"
	"github.com/nerrad567/cardpass-core/internal/infrastructure/mqtt"
)

func TestExecuteReaderCommand(t *testing.T) {
	tests := []struct {
		name      string
		id        int
		msg       CommandMessage
		wantOp    string
		wantCmd   lmpi.Command
		wantParam string
		wantErr   error
	}{
		{name: "open", id: 1, msg: CommandMessage{Command: "open"}, wantOp: "open"},
		{name: "restart", id: 1, msg: CommandMessage{Command: "restart"}, wantOp: "restart"},
		{name: "connect", id: 1, msg: CommandMessage{Command: "connect"}, wantOp: "connect"},
		{name: "disconnect", id: 1, msg: CommandMessage{Command: "disconnect"}, wantOp: "disconnect"},
		{name: "enable", id: 1, msg: CommandMessage{Command: "enable"}, wantOp: "enable"},
		{name: "disable", id: 1, msg: CommandMessage{Command: "disable"}, wantOp: "disable"},
		{
			name:      "raw protocol command",
			id:        1,
			msg:       CommandMessage{Command: "fakescan", Param: "1042"},
			wantOp:    "send",
			wantCmd:   lmpi.CmdFakeScan,
			wantParam: "1042",
		},
		{name: "unknown command", id: 1, msg: CommandMessage{Command: "explode"}, wantErr: ErrInvalidCommand},
		{name: "untracked reader", id: 9, msg: CommandMessage{Command: "open"}, wantOp: "open", wantErr: ErrCommandRejected},
		{name: "untracked connect", id: 9, msg: CommandMessage{Command: "connect"}, wantOp: "connect", wantErr: errNotTracked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController(1)
			h := NewCommandHandler(CommandHandlerConfig{Controller: ctrl})

			err := h.ExecuteReaderCommand(context.Background(), tt.id, tt.msg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if tt.wantOp == "" {
				if len(ctrl.calls) != 0 {
					t.Errorf("controller called: %+v", ctrl.calls)
				}
				return
			}
			got := ctrl.lastCall()
			if got.op != tt.wantOp || got.id != tt.id {
				t.Errorf("call = %+v, want op %q id %d", got, tt.wantOp, tt.id)
			}
			if got.cmd != tt.wantCmd || got.param != tt.wantParam {
				t.Errorf("call = %+v, want cmd %q param %q", got, tt.wantCmd, tt.wantParam)
			}
		})
	}
}

func TestExecuteSiteCommand(t *testing.T) {
	tests := []struct {
		name       string
		msg        CommandMessage
		noBcast    bool
		bcastFails bool
		wantQueued int
		wantSent   string
		wantErr    error
	}{
		{name: "emergency over tcp", msg: CommandMessage{Command: "emergency"}, wantQueued: 3},
		{name: "emergency end over tcp", msg: CommandMessage{Command: "emergency_end", Via: "TCP"}, wantQueued: 3},
		{name: "emergency over udp", msg: CommandMessage{Command: "emergency", Via: "udp"}, wantQueued: 1, wantSent: lmpi.BroadcastEmergency},
		{name: "sync over udp", msg: CommandMessage{Command: "sync", Via: "udp"}, wantQueued: 1, wantSent: lmpi.BroadcastSync},
		{name: "sync over tcp", msg: CommandMessage{Command: "sync"}, wantErr: ErrInvalidCommand},
		{name: "unknown site command", msg: CommandMessage{Command: "lockdown"}, wantErr: ErrInvalidCommand},
		{name: "unknown udp command", msg: CommandMessage{Command: "lockdown", Via: "udp"}, wantErr: ErrInvalidCommand},
		{name: "unknown transport", msg: CommandMessage{Command: "emergency", Via: "carrier-pigeon"}, wantErr: ErrInvalidCommand},
		{name: "broadcast disabled", msg: CommandMessage{Command: "emergency", Via: "udp"}, noBcast: true, wantErr: ErrCommandRejected},
		{name: "broadcast fails", msg: CommandMessage{Command: "emergency", Via: "udp"}, bcastFails: true, wantErr: ErrCommandRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController(1, 2, 3)
			bcast := &fakeBroadcaster{fail: tt.bcastFails}
			cfg := CommandHandlerConfig{Controller: ctrl, Broadcast: bcast}
			if tt.noBcast {
				cfg.Broadcast = nil
			}
			h := NewCommandHandler(cfg)

			queued, err := h.ExecuteSiteCommand(tt.msg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if queued != tt.wantQueued {
				t.Errorf("queued = %d, want %d", queued, tt.wantQueued)
			}
			if tt.wantSent != "" && (len(bcast.sent) != 1 || bcast.sent[0] != tt.wantSent) {
				t.Errorf("broadcast sent %v, want [%s]", bcast.sent, tt.wantSent)
			}
		})
	}
}

func TestHandleReaderMessage(t *testing.T) {
	ctrl := newFakeController(5)
	pub := newFakePublisher()
	h := NewCommandHandler(CommandHandlerConfig{Controller: ctrl, Publisher: pub})

	topic := mqtt.Topics{}.ReaderCommand(5)
	if err := h.HandleReaderMessage(topic, []byte(`{"id":"c-1","command":" OPEN ","source":"api"}`)); err != nil {
		t.Fatalf("HandleReaderMessage() error = %v", err)
	}
	if got := ctrl.lastCall(); got.op != "open" || got.id != 5 {
		t.Errorf("call = %+v", got)
	}

	msg, ok := pub.last()
	if !ok {
		t.Fatal("no ack published")
	}
	if msg.topic != "cardpass/command/ack" || msg.retained {
		t.Errorf("ack topic %q retained=%v", msg.topic, msg.retained)
	}
	ack := msg.v.(AckMessage)
	if ack.Status != AckAccepted || ack.CommandID != "c-1" || ack.ReaderID != 5 || ack.Command != "open" {
		t.Errorf("ack = %+v", ack)
	}
	if ack.Timestamp.IsZero() {
		t.Error("ack timestamp missing")
	}
}

func TestHandleReaderMessageErrors(t *testing.T) {
	ctrl := newFakeController(5)
	pub := newFakePublisher()
	h := NewCommandHandler(CommandHandlerConfig{Controller: ctrl, Publisher: pub})

	if err := h.HandleReaderMessage("cardpass/command/reader/x", []byte(`{"command":"open"}`)); !errors.Is(err, mqtt.ErrInvalidTopic) {
		t.Errorf("bad topic error = %v", err)
	}
	if len(pub.all()) != 0 {
		t.Error("ack published for unparseable topic")
	}

	topic := mqtt.Topics{}.ReaderCommand(5)
	for _, payload := range []string{`not json`, `{"command":""}`} {
		if err := h.HandleReaderMessage(topic, []byte(payload)); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("payload %q error = %v", payload, err)
		}
		msg, _ := pub.last()
		if ack := msg.v.(AckMessage); ack.Status != AckFailed || ack.Error == "" {
			t.Errorf("ack for %q = %+v", payload, ack)
		}
	}

	ctrl.reject = true
	if err := h.HandleReaderMessage(topic, []byte(`{"command":"restart"}`)); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("rejected command error = %v", err)
	}
}

func TestHandleSiteMessage(t *testing.T) {
	ctrl := newFakeController(1, 2)
	pub := newFakePublisher()
	h := NewCommandHandler(CommandHandlerConfig{Controller: ctrl, Publisher: pub})

	if err := h.HandleSiteMessage(mqtt.Topics{}.SiteCommand(), []byte(`{"id":"e-1","command":"emergency"}`)); err != nil {
		t.Fatalf("HandleSiteMessage() error = %v", err)
	}
	msg, ok := pub.last()
	if !ok {
		t.Fatal("no ack published")
	}
	if ack := msg.v.(AckMessage); ack.Status != AckAccepted || ack.Queued != 2 || ack.CommandID != "e-1" {
		t.Errorf("ack = %+v", ack)
	}

	if err := h.HandleSiteMessage(mqtt.Topics{}.SiteCommand(), []byte(`{"command":"sync"}`)); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("sync over tcp error = %v", err)
	}
}

func TestCommandAudit(t *testing.T) {
	ctrl := newFakeController(5)
	rec := &fakeAudit{}
	bcast := &fakeBroadcaster{}
	h := NewCommandHandler(CommandHandlerConfig{Controller: ctrl, Broadcast: bcast, Audit: rec})

	topic := mqtt.Topics{}.ReaderCommand(5)
	if err := h.HandleReaderMessage(topic, []byte(`{"id":"c-9","command":"fakescan","param":"1042","source":"bms"}`)); err != nil {
		t.Fatalf("HandleReaderMessage() error = %v", err)
	}
	if err := h.HandleSiteMessage("", []byte(`{"command":"emergency_end","via":"udp"}`)); err != nil {
		t.Fatalf("HandleSiteMessage() error = %v", err)
	}
	ctrl.reject = true
	if err := h.HandleReaderMessage(topic, []byte(`{"command":"open"}`)); err == nil {
		t.Fatal("rejected command should fail")
	}

	entries := rec.all()
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2 (rejected commands are not recorded)", len(entries))
	}

	scan := entries[0]
	if scan.EntityType != audit.EntityReader || scan.EntityID != "5" || scan.Source != audit.SourceMQTT || scan.Action != audit.ActionCommand {
		t.Errorf("reader entry = %+v", scan)
	}
	if scan.Details["command"] != "fakescan" || scan.Details["param"] != "1042" ||
		scan.Details["command_id"] != "c-9" || scan.Details["origin"] != "bms" {
		t.Errorf("reader details = %v", scan.Details)
	}

	site := entries[1]
	if site.EntityType != audit.EntitySite || site.EntityID != "" || site.Details["via"] != "udp" || site.Details["queued"] != 1 {
		t.Errorf("site entry = %+v", site)
	}
}

func TestCommandAudit_StoreFailureDoesNotFailCommand(t *testing.T) {
	ctrl := newFakeController(5)
	h := NewCommandHandler(CommandHandlerConfig{Controller: ctrl, Audit: &fakeAudit{err: errors.New("disk full")}})

	if err := h.HandleReaderMessage(mqtt.Topics{}.ReaderCommand(5), []byte(`{"command":"open"}`)); err != nil {
		t.Errorf("HandleReaderMessage() error = %v", err)
	}
}

type fakeSubscriber struct {
	topics  map[string]mqtt.MessageHandler
	failOn  string
	removed []string
}

func (s *fakeSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if topic == s.failOn {
		return mqtt.ErrSubscribeFailed
	}
	s.topics[topic] = handler
	return nil
}

func (s *fakeSubscriber) Unsubscribe(topic string) error {
	s.removed = append(s.removed, topic)
	delete(s.topics, topic)
	return nil
}

func TestCommandHandlerSubscribe(t *testing.T) {
	ctrl := newFakeController(4)
	h := NewCommandHandler(CommandHandlerConfig{Controller: ctrl})
	sub := &fakeSubscriber{topics: make(map[string]mqtt.MessageHandler)}

	if err := h.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	handler, ok := sub.topics["cardpass/command/reader/+"]
	if !ok {
		t.Fatal("reader command topic not subscribed")
	}
	if _, ok := sub.topics["cardpass/command/site"]; !ok {
		t.Fatal("site command topic not subscribed")
	}

	if err := handler("cardpass/command/reader/4", []byte(`{"command":"restart"}`)); err != nil {
		t.Errorf("handler error = %v", err)
	}
	if got := ctrl.lastCall(); got.op != "restart" || got.id != 4 {
		t.Errorf("call = %+v", got)
	}

	h.Unsubscribe(sub)
	if len(sub.topics) != 0 || len(sub.removed) != 2 {
		t.Errorf("after Unsubscribe topics=%v removed=%v", sub.topics, sub.removed)
	}

	failing := &fakeSubscriber{topics: make(map[string]mqtt.MessageHandler), failOn: "cardpass/command/site"}
	if err := h.Subscribe(failing); !errors.Is(err, mqtt.ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
}
