package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"hkbot/internal/domain"
)

type fakeImageSource struct{ imgs []domain.Message }

func (f fakeImageSource) RecentImages(context.Context, string, string, int) ([]domain.Message, error) {
	return f.imgs, nil
}

type fakeProvider struct {
	content string
	err     error
	req     domain.ChatRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatResponse{Content: f.content}, nil
}

func images(n int) []domain.Message {
	out := make([]domain.Message, n)
	for i := range out {
		url := "https://cdn.example/" + string(rune('a'+i)) + ".jpg"
		out[i] = domain.Message{ID: int64(i + 1), ImageURL: &url, IsUser: true, CreatedAt: time.Now()}
	}
	return out
}

func TestImageScanner_PicksByIndex(t *testing.T) {
	prov := &fakeProvider{content: `{"images":[3,1,3,9]}`}
	s := NewImageScanner(ImageScannerConfig{Images: fakeImageSource{images(3)}, Provider: prov, Logger: testLogger()})

	got, err := s.Select(context.Background(), Conversation{UserID: "u"}, "leak")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 1 {
		t.Fatalf("unexpected selection: %+v", got)
	}
	if !prov.req.JSONOutput {
		t.Fatal("expected a JSON-mode request")
	}
}

func TestImageScanner_FallsBackToAllCandidates(t *testing.T) {
	for name, prov := range map[string]*fakeProvider{
		"call fails":   {err: errors.New("timeout")},
		"bad response": {content: "the second one"},
	} {
		t.Run(name, func(t *testing.T) {
			s := NewImageScanner(ImageScannerConfig{Images: fakeImageSource{images(2)}, Provider: prov, Logger: testLogger()})
			got, err := s.Select(context.Background(), Conversation{}, "leak")
			if err != nil {
				t.Fatalf("select: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected all candidates, got %d", len(got))
			}
		})
	}
}

func TestImageScanner_NoCandidatesSkipsModel(t *testing.T) {
	prov := &fakeProvider{err: errors.New("should not be called")}
	s := NewImageScanner(ImageScannerConfig{Images: fakeImageSource{}, Provider: prov, Logger: testLogger()})

	got, err := s.Select(context.Background(), Conversation{}, "leak")
	if err != nil || len(got) != 0 {
		t.Fatalf("expected nothing, got %v %v", got, err)
	}
	if len(prov.req.Messages) != 0 {
		t.Fatal("model should not be asked without candidates")
	}
}
