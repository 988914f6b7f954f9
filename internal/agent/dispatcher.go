package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ragagent/internal/domain"
	"ragagent/internal/retry"
)

// DispatcherConfig bounds the generation loop.
type DispatcherConfig struct {
	SystemPrompt string
	// MaxToolRounds is the number of tool-call rounds allowed per turn. Required.
	MaxToolRounds     int
	ParallelTools     bool
	GenerationTimeout time.Duration
	ToolTimeout       time.Duration
	GenerationRetries int
}

// Dispatcher drives the loop between the generator and the tools until the
// generator produces a final answer.
type Dispatcher struct {
	generator domain.Generator
	tools     map[string]Tool
	specs     []domain.ToolSpec
	cfg       DispatcherConfig
	logger    *zap.Logger
}

// NewDispatcher validates the configuration and indexes the tools by name.
func NewDispatcher(generator domain.Generator, tools []Tool, cfg DispatcherConfig, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.MaxToolRounds <= 0 {
		return nil, domain.NewError(domain.KindConfig, "max tool rounds must be set", fmt.Errorf("%d", cfg.MaxToolRounds))
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 60 * time.Second
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	if cfg.GenerationRetries < 0 {
		cfg.GenerationRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{generator: generator, tools: make(map[string]Tool, len(tools)), cfg: cfg, logger: logger}
	for _, t := range tools {
		spec := t.Spec()
		if _, dup := d.tools[spec.Name]; dup {
			return nil, domain.NewError(domain.KindConfig, "duplicate tool", fmt.Errorf("%s", spec.Name))
		}
		d.tools[spec.Name] = t
		d.specs = append(d.specs, spec)
	}
	return d, nil
}

// Tools returns the specs shown to the generator.
func (d *Dispatcher) Tools() []domain.ToolSpec { return d.specs }

// Run continues conversation until a final answer. It returns the answer and the
// turns appended during the run; conversation itself is not modified.
// Exceeding MaxToolRounds fails with a loop_exceeded error and no answer.
func (d *Dispatcher) Run(ctx context.Context, rc domain.RunContext, conversation []domain.Turn) (string, []domain.Turn, error) {
	history := make([]domain.Turn, len(conversation), len(conversation)+8)
	copy(history, conversation)
	var added []domain.Turn
	log := d.logger.With(zap.String("run_id", rc.RunID), zap.String("thread_id", rc.ThreadID))

	for round := 0; ; round++ {
		gen, err := d.generate(ctx, history)
		if err != nil {
			return "", added, err
		}
		if gen.Final() {
			turn := domain.Turn{Role: domain.RoleAssistant, Content: gen.Answer}
			added = append(added, turn)
			log.Debug("final answer", zap.Int("rounds", round))
			return gen.Answer, added, nil
		}
		if round >= d.cfg.MaxToolRounds {
			log.Warn("tool round cap reached", zap.Int("max_tool_rounds", d.cfg.MaxToolRounds))
			return "", added, domain.NewError(domain.KindLoopExceeded, "generation loop exceeded",
				fmt.Errorf("generator still requested tools after %d rounds", d.cfg.MaxToolRounds))
		}

		request := domain.Turn{Role: domain.RoleAssistant, Content: gen.Answer, ToolCalls: gen.ToolCalls}
		results := d.execute(ctx, rc, gen.ToolCalls)
		history = append(history, request)
		history = append(history, results...)
		added = append(added, request)
		added = append(added, results...)
	}
}

func (d *Dispatcher) generate(ctx context.Context, history []domain.Turn) (domain.Generation, error) {
	req := domain.GenerateRequest{SystemPrompt: d.cfg.SystemPrompt, Conversation: history, Tools: d.specs}
	var gen domain.Generation
	err := retry.OnTimeout(ctx, d.cfg.GenerationRetries, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.GenerationTimeout)
		defer cancel()
		var err error
		gen, err = d.generator.Generate(callCtx, req)
		if retry.IsTimeout(err) {
			d.logger.Warn("generation timed out", zap.Duration("timeout", d.cfg.GenerationTimeout))
		}
		return err
	})
	if err != nil {
		return domain.Generation{}, domain.Wrapf(domain.KindGeneration, err, "generate")
	}
	return gen, nil
}

// execute runs one batch of tool calls. Results keep request order.
func (d *Dispatcher) execute(ctx context.Context, rc domain.RunContext, calls []domain.ToolCall) []domain.Turn {
	results := make([]domain.Turn, len(calls))
	if !d.cfg.ParallelTools || len(calls) == 1 {
		for i, call := range calls {
			results[i] = d.call(ctx, rc, call)
		}
		return results
	}
	var g errgroup.Group
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = d.call(ctx, rc, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// call runs a single tool. Every failure becomes a failed tool turn.
func (d *Dispatcher) call(ctx context.Context, rc domain.RunContext, call domain.ToolCall) domain.Turn {
	turn := domain.Turn{Role: domain.RoleTool, ToolCallID: call.ID, ToolName: call.Name}
	tool, ok := d.tools[call.Name]
	if !ok {
		err := domain.NewError(domain.KindUnknownTool, "unknown tool", fmt.Errorf("%q", call.Name))
		return d.failed(turn, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.ToolTimeout)
	defer cancel()
	out, err := tool.Call(callCtx, rc, call.Arguments)
	if err != nil {
		if domain.KindOf(err) != domain.KindToolArgument {
			err = domain.Wrapf(domain.KindToolExecution, err, "%s failed", call.Name)
		}
		return d.failed(turn, err)
	}
	turn.Content = out
	return turn
}

func (d *Dispatcher) failed(turn domain.Turn, err error) domain.Turn {
	d.logger.Warn("tool call failed",
		zap.String("tool", turn.ToolName),
		zap.String("tool_call_id", turn.ToolCallID),
		zap.String("kind", string(domain.KindOf(err))),
		zap.Error(err))
	turn.Failed = true
	turn.Content = "Error: " + err.Error()
	return turn
}
