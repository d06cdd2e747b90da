package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lox/pokeragent/internal/agent"
	"github.com/lox/pokeragent/internal/config"
	"github.com/lox/pokeragent/internal/fileutil"
	"github.com/lox/pokeragent/internal/protocol"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	lineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	actionStyles = map[string]lipgloss.Style{
		"fold":  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		"check": lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		"call":  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"raise": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
	}

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)

const maxReplayLine = 1 << 20

type ReplayCmd struct {
	ConfigFlags `embed:""`

	File       string        `arg:"" type:"existingfile" help:"JSON-lines file of recorded server messages"`
	LiveOracle bool          `help:"Consult the configured oracle instead of the static response"`
	Response   string        `help:"Static oracle response (overrides config)"`
	Cooldown   time.Duration `default:"0s" help:"Cooldown between actions; zero disables it"`
	Report     string        `help:"Write the replay result as JSON to this path"`
}

func (c *ReplayCmd) Run() error {
	cfg, err := c.load(func(cfg *config.Config) {
		if !c.LiveOracle {
			cfg.Oracle.Provider = config.ProviderStatic
		}
		if c.Response != "" {
			cfg.Oracle.StaticResponse = c.Response
		}
	})
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	opts := agentOptions(cfg, newOracle(cfg, logger), logger)
	opts.Cooldown = c.Cooldown
	if opts.Cooldown <= 0 {
		// recorded messages carry no timing
		opts.Cooldown = time.Nanosecond
	}
	a := agent.New(opts)

	ctx, cancel := signalContext(logger)
	defer cancel()

	res, err := replay(ctx, f, a)
	if err != nil {
		return err
	}
	printReplay(os.Stdout, c.File, res)

	if c.Report != "" {
		if err := fileutil.WriteJSON(c.Report, res); err != nil {
			return err
		}
		logger.Info("Wrote replay report", "path", c.Report)
	}
	return nil
}

// recordedAction is an action the agent sent in response to a replayed line
type recordedAction struct {
	Line   int             `json:"line"`
	Action protocol.Action `json:"action"`
}

type replayResult struct {
	Lines     int              `json:"lines"`
	Malformed []int            `json:"malformed,omitempty"`
	Actions   []recordedAction `json:"actions"`
}

// recorder stands in for the server connection during a replay
type recorder struct {
	mu      sync.Mutex
	line    int
	actions []recordedAction
}

func (r *recorder) Send(_ context.Context, env protocol.Envelope) error {
	if env.Type != protocol.TypeAction {
		return nil
	}
	var a protocol.Action
	if err := json.Unmarshal(env.Payload, &a); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, recordedAction{Line: r.line, Action: a})
	return nil
}

func (r *recorder) setLine(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line = n
}

// replay feeds each line to the agent and waits for any decision it starts
// before moving on, so actions are attributed to the line that caused them.
func replay(ctx context.Context, in io.Reader, a *agent.Agent) (replayResult, error) {
	rec := &recorder{}
	a.Attach(rec)

	var res replayResult
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxReplayLine)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Lines++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rec.setLine(res.Lines)
		if err := a.HandleMessage(ctx, []byte(line)); err != nil {
			res.Malformed = append(res.Malformed, res.Lines)
		}
		a.Wait()
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read replay: %w", err)
	}

	rec.mu.Lock()
	res.Actions = append(res.Actions, rec.actions...)
	rec.mu.Unlock()
	return res, nil
}

func printReplay(w io.Writer, name string, res replayResult) {
	_, _ = fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Replay of %s: %d lines, %d actions", name, res.Lines, len(res.Actions))))

	for _, ra := range res.Actions {
		style, ok := actionStyles[ra.Action.ActionType]
		if !ok {
			style = lipgloss.NewStyle()
		}
		text := ra.Action.ActionType
		if ra.Action.Amount != nil {
			text = fmt.Sprintf("%s %d", text, *ra.Action.Amount)
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", lineStyle.Render(fmt.Sprintf("line %4d", ra.Line)), style.Render(text))
	}

	if len(res.Malformed) > 0 {
		_, _ = fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("Skipped %d malformed lines: %v", len(res.Malformed), res.Malformed)))
	}
}
