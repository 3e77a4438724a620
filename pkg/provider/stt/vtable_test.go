package stt

import (
	"context"
	"testing"

	"github.com/runanywhere/racore/pkg/rachandle"
	"github.com/runanywhere/racore/pkg/types"
)

type fakeSession struct {
	partials chan types.Transcript
	finals   chan types.Transcript
	closed   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		partials: make(chan types.Transcript, 4),
		finals:   make(chan types.Transcript, 4),
	}
}

func (s *fakeSession) SendAudio(chunk []byte) error {
	s.finals <- types.Transcript{Text: "final text", IsFinal: true}
	return nil
}
func (s *fakeSession) Partials() <-chan types.Transcript             { return s.partials }
func (s *fakeSession) Finals() <-chan types.Transcript               { return s.finals }
func (s *fakeSession) SetKeywords(k []types.KeywordBoost) error      { return nil }
func (s *fakeSession) Close() error {
	if !s.closed {
		s.closed = true
		close(s.partials)
		close(s.finals)
	}
	return nil
}

type fakeProvider struct{ session *fakeSession }

func (p *fakeProvider) StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error) {
	return p.session, nil
}

func TestVtableTranscribe(t *testing.T) {
	v := NewVtable(rachandle.NewRegistry())
	h := v.Create(&fakeProvider{session: newFakeSession()})

	got, err := v.Transcribe(context.Background(), h, []byte{1, 2, 3}, TranscribeOptions{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "final text" {
		t.Fatalf("got %+v", got)
	}
}

func TestStreamSessionLifecycle(t *testing.T) {
	v := NewVtable(rachandle.NewRegistry())
	backend := v.Create(&fakeProvider{session: newFakeSession()})

	streamH, err := v.CreateStream(context.Background(), backend, StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if !v.IsStreamReady(streamH) {
		t.Fatalf("expected stream ready")
	}

	if err := v.FeedAudio(streamH, []byte{1, 2, 3}); err != nil {
		t.Fatalf("FeedAudio: %v", err)
	}

	transcript, ok, err := v.Decode(streamH)
	if err != nil || !ok {
		t.Fatalf("Decode: ok=%v err=%v", ok, err)
	}
	if transcript.Text != "final text" {
		t.Fatalf("got %+v", transcript)
	}

	ended, _ := v.IsEndpoint(streamH)
	if ended {
		t.Fatalf("expected not yet at endpoint")
	}
	if err := v.InputFinished(streamH); err != nil {
		t.Fatalf("InputFinished: %v", err)
	}
	ended, _ = v.IsEndpoint(streamH)
	if !ended {
		t.Fatalf("expected endpoint after InputFinished")
	}
	if err := v.Reset(streamH); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	ended, _ = v.IsEndpoint(streamH)
	if ended {
		t.Fatalf("expected endpoint cleared after Reset")
	}

	if err := v.DestroyStream(streamH); err != nil {
		t.Fatalf("DestroyStream: %v", err)
	}
	if v.IsStreamReady(streamH) {
		t.Fatalf("expected stream destroyed")
	}
}
