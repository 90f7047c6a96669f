package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"cordai/internal/models"
)

func collect(t *testing.T, ch <-chan models.Frame) []models.Frame {
	t.Helper()
	var frames []models.Frame
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-timeout:
			t.Fatalf("frame channel not closed, got %+v", frames)
		}
	}
}

func arrayStream(chunks ...string) StreamFunc {
	return func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		items := make([]*schema.Message, 0, len(chunks))
		for _, c := range chunks {
			items = append(items, schema.AssistantMessage(c, nil))
		}
		return schema.StreamReaderFromArray(items), nil
	}
}

func TestInvokeStreamsDeltasThenFinish(t *testing.T) {
	agent := NewAgent("cordaiAgent", Instructions, arrayStream("Hel", "", "lo"), nil, nil)
	ch, err := agent.Invoke(context.Background(), Invocation{ThreadID: "c1", ResourceID: "u1", Content: "hi"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	frames := collect(t, ch)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %+v", frames)
	}
	if frames[0].Type != models.FrameTextDelta || frames[0].Delta != "Hel" {
		t.Fatalf("unexpected first frame %+v", frames[0])
	}
	if frames[1].Type != models.FrameTextDelta || frames[1].Delta != "lo" {
		t.Fatalf("unexpected second frame %+v", frames[1])
	}
	if frames[2].Type != models.FrameFinish || frames[2].FinishReason != models.FinishStop {
		t.Fatalf("unexpected last frame %+v", frames[2])
	}
}

func TestInvokeSendsInstructionsAndHistory(t *testing.T) {
	var seen [][]*schema.Message
	stream := func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		seen = append(seen, msgs)
		return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage("ok", nil)}), nil
	}
	mem := NewLocalMemory(10)
	agent := NewAgent("cordaiAgent", "be brief", stream, nil, mem)

	for _, content := range []string{"first", "second"} {
		ch, err := agent.Invoke(context.Background(), Invocation{ThreadID: "c1", ResourceID: "u1", Content: content})
		if err != nil {
			t.Fatalf("invoke: %v", err)
		}
		collect(t, ch)
	}

	if len(seen) != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", len(seen))
	}
	if got := seen[0]; len(got) != 2 || got[0].Role != schema.System || got[1].Content != "first" {
		t.Fatalf("unexpected first call messages %+v", got)
	}
	second := seen[1]
	if len(second) != 5 {
		t.Fatalf("expected system + working memory + 2 history + user, got %d", len(second))
	}
	if second[1].Role != schema.System || !strings.Contains(second[1].Content, "Recent queries: first") {
		t.Fatalf("working memory not sent: %+v", second[1])
	}
	if second[2].Content != "first" || second[3].Content != "ok" || second[4].Content != "second" {
		t.Fatalf("history not replayed in order: %+v", second)
	}

	other, _ := mem.Load(context.Background(), "u2", "c1")
	if len(other) != 0 {
		t.Fatalf("memory leaked across resources: %+v", other)
	}
}

func TestInvokeStreamFailureIsExecutionError(t *testing.T) {
	boom := errors.New("dial tcp: refused")
	stream := func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		return nil, boom
	}
	agent := NewAgent("cordaiAgent", "", stream, nil, nil)
	_, err := agent.Invoke(context.Background(), Invocation{ThreadID: "c", Content: "x"})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestInvokeMidStreamErrorBecomesErrorFrame(t *testing.T) {
	boom := errors.New("upstream reset")
	stream := func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		sr, sw := schema.Pipe[*schema.Message](4)
		sw.Send(schema.AssistantMessage("partial", nil), nil)
		sw.Send(nil, boom)
		sw.Close()
		return sr, nil
	}
	mem := NewLocalMemory(10)
	agent := NewAgent("cordaiAgent", "", stream, nil, mem)
	ch, err := agent.Invoke(context.Background(), Invocation{ThreadID: "c", ResourceID: "u", Content: "x"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	frames := collect(t, ch)
	if len(frames) != 2 {
		t.Fatalf("expected delta + error, got %+v", frames)
	}
	if frames[1].Type != models.FrameError || !errors.Is(frames[1].Err, boom) {
		t.Fatalf("unexpected error frame %+v", frames[1])
	}
	if history, _ := mem.Load(context.Background(), "u", "c"); len(history) != 0 {
		t.Fatalf("failed turn should not be remembered: %+v", history)
	}
}

func TestInvokeStopsOnCancel(t *testing.T) {
	writerClosed := make(chan struct{})
	stream := func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		sr, sw := schema.Pipe[*schema.Message](0)
		go func() {
			defer close(writerClosed)
			defer sw.Close()
			for i := 0; i < 1000; i++ {
				if closed := sw.Send(schema.AssistantMessage("tick", nil), nil); closed {
					return
				}
			}
		}()
		return sr, nil
	}
	agent := NewAgent("cordaiAgent", "", stream, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := agent.Invoke(ctx, Invocation{ThreadID: "c", Content: "x"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if f := <-ch; f.Type != models.FrameTextDelta {
		t.Fatalf("unexpected frame %+v", f)
	}
	cancel()

	frames := collect(t, ch)
	for _, f := range frames {
		if f.Type == models.FrameFinish {
			t.Fatalf("cancelled stream must not finish normally: %+v", frames)
		}
	}
	select {
	case <-writerClosed:
	case <-time.After(2 * time.Second):
		t.Fatalf("upstream reader was not closed after cancel")
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Resolve("cordaiAgent"); !errors.Is(err, ErrAgentUnavailable) {
		t.Fatalf("expected ErrAgentUnavailable, got %v", err)
	}
	agent := NewAgent("cordaiAgent", "", arrayStream("x"), nil, nil)
	reg.Register("cordaiAgent", agent)
	got, err := reg.Resolve("cordaiAgent")
	if err != nil || got != Invoker(agent) {
		t.Fatalf("resolve: %v %v", got, err)
	}
	if _, err := reg.Resolve("other"); !errors.Is(err, ErrAgentUnavailable) {
		t.Fatalf("expected ErrAgentUnavailable for unknown name, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	generate := func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
		if len(msgs) != 1 || msgs[0].Role != schema.User {
			t.Fatalf("unexpected prompt %+v", msgs)
		}
		return schema.AssistantMessage("  SOL price check \n", nil), nil
	}
	agent := NewAgent("cordaiAgent", "", nil, generate, nil)
	got, err := agent.Complete(context.Background(), "title please")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "SOL price check" {
		t.Fatalf("unexpected completion %q", got)
	}

	if _, err := NewAgent("x", "", nil, nil, nil).Complete(context.Background(), "p"); !errors.Is(err, ErrAgentUnavailable) {
		t.Fatalf("expected ErrAgentUnavailable, got %v", err)
	}
}

func TestNilStreamReaderIsRejected(t *testing.T) {
	stream := func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		return nil, nil
	}
	_, err := NewAgent("a", "", stream, nil, nil).Invoke(context.Background(), Invocation{Content: "x"})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
}

func TestWorkingMemorySpansThreads(t *testing.T) {
	var seen [][]*schema.Message
	stream := func(ctx context.Context, msgs []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		seen = append(seen, msgs)
		return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage("ok", nil)}), nil
	}
	mem := NewLocalMemory(10)
	if err := mem.UpdateWorking(context.Background(), "wallet-1", func(w *WorkingMemory) {
		w.LastWalletChecked = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	}); err != nil {
		t.Fatalf("update working: %v", err)
	}
	agent := NewAgent("cordaiAgent", "", stream, nil, mem)

	content := "what's my balance?\n\n[Context: User's connected wallet address is wallet-1]"
	collect(t, mustInvoke(t, agent, Invocation{ThreadID: "c1", ResourceID: "wallet-1", Content: content}))
	collect(t, mustInvoke(t, agent, Invocation{ThreadID: "c2", ResourceID: "wallet-1", Content: "and SOL price?"}))

	w, err := mem.Working(context.Background(), "wallet-1")
	if err != nil {
		t.Fatalf("working: %v", err)
	}
	if len(w.Queries) != 2 || w.Queries[0] != "what's my balance?" || w.Queries[1] != "and SOL price?" {
		t.Fatalf("unexpected queries %+v", w.Queries)
	}

	second := seen[1]
	if len(second) != 2 || second[0].Role != schema.System {
		t.Fatalf("new thread should carry only working memory and the user turn: %+v", second)
	}
	if !strings.Contains(second[0].Content, "Last wallet checked: 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU") {
		t.Fatalf("unexpected working memory prompt %q", second[0].Content)
	}

	if other, _ := mem.Working(context.Background(), "wallet-2"); len(other.Queries) != 0 {
		t.Fatalf("working memory leaked across resources: %+v", other)
	}
}

func TestWorkingMemoryKeepsRecentQueries(t *testing.T) {
	var w WorkingMemory
	for i := 0; i < maxWorkingQueries+3; i++ {
		w.AddQuery(strings.Repeat("q", i+1))
	}
	w.AddQuery("   ")
	if len(w.Queries) != maxWorkingQueries || w.Queries[0] != strings.Repeat("q", 4) {
		t.Fatalf("unexpected queries %+v", w.Queries)
	}
	if (&WorkingMemory{}).Prompt() != "" {
		t.Fatalf("empty working memory should render nothing")
	}
}

func mustInvoke(t *testing.T, agent *Agent, inv Invocation) <-chan models.Frame {
	t.Helper()
	ch, err := agent.Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	return ch
}
