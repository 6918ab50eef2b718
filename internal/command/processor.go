package command

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/clbarrell/cube-builder/internal/game"
)

// Target is the state a command acts on. *game.Engine satisfies it.
type Target interface {
	Reset() (int, game.Effects)
	StartGame() (game.Effects, error)
	StartTimer(minutes float64) (game.Effects, error)
}

// Command names
const (
	CmdReset     = "reset"
	CmdStartGame = "startgame"
	CmdTimer     = "timer"
	CmdMemory    = "memory"
	CmdHelp      = "help"
)

const (
	msgNotLoggedIn = "You must be logged in to use commands"
	msgRateLimited = "Too many commands. Please slow down."
	msgGameStarted = "Game started"
	msgUnknownFmt  = "Unknown command: %s. Type 'help' for available commands."
	msgHelpBase    = "Available commands: reset, startgame, timer <minutes>, help"
	msgHelpWithDev = "Available commands: reset, startgame, timer <minutes>, memory, help"
)

type handlerFunc func(p *Processor, caller string, args []string) (game.CommandResponse, game.Effects)

// handlers maps the lowercase first token to its handler
var handlers = map[string]handlerFunc{
	CmdReset:     (*Processor).handleReset,
	CmdStartGame: (*Processor).handleStartGame,
	CmdTimer:     (*Processor).handleTimer,
	CmdMemory:    (*Processor).handleMemory,
	CmdHelp:      (*Processor).handleHelp,
}

// Options configures a Processor.
type Options struct {
	DevCommands bool // enables memory
	RateLimit   RateLimitConfig
	Logger      *zap.SugaredLogger
}

// Processor parses operator commands and applies them to the Target.
// It never touches the network: the response goes back to the caller only,
// and the returned effects are broadcast by the router.
type Processor struct {
	target      Target
	limiter     *RateLimiter
	devCommands bool
	log         *zap.SugaredLogger
}

// NewProcessor creates a command processor
func NewProcessor(target Target, opts Options) *Processor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.RateLimit.MaxPerWindow == 0 {
		opts.RateLimit = DefaultRateLimitConfig
	}
	return &Processor{
		target:      target,
		limiter:     NewRateLimiter(opts.RateLimit),
		devCommands: opts.DevCommands,
		log:         opts.Logger,
	}
}

// Process handles one raw command from caller. caller is empty when the
// connection has not joined.
func (p *Processor) Process(raw, caller string) (game.CommandResponse, game.Effects) {
	if caller == "" {
		return fail(msgNotLoggedIn), nil
	}

	if !p.limiter.Allow(caller) {
		p.log.Debugw("command rate limited", "caller", caller)
		return fail(msgRateLimited), nil
	}

	parts := strings.Fields(strings.ToLower(raw))
	name := ""
	if len(parts) > 0 {
		name = parts[0]
	}

	h, found := handlers[name]
	if !found || (name == CmdMemory && !p.devCommands) {
		return fail(fmt.Sprintf(msgUnknownFmt, name)), nil
	}

	p.log.Infow("command", "caller", caller, "command", name)
	return h(p, caller, parts[1:])
}

// Stop releases the rate limiter.
func (p *Processor) Stop() {
	p.limiter.Stop()
}

func (p *Processor) handleReset(caller string, _ []string) (game.CommandResponse, game.Effects) {
	n, out := p.target.Reset()
	return ok(fmt.Sprintf("Reset %d cube%s and returned to lobby.", n, plural(float64(n)))), out
}

func (p *Processor) handleStartGame(caller string, _ []string) (game.CommandResponse, game.Effects) {
	out, err := p.target.StartGame()
	if err != nil {
		return rejected(err), nil
	}
	return ok(msgGameStarted), out
}

func (p *Processor) handleTimer(caller string, args []string) (game.CommandResponse, game.Effects) {
	if len(args) == 0 {
		return rejected(game.ErrInvalidTime), nil
	}
	minutes, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return rejected(game.ErrInvalidTime), nil
	}

	out, err := p.target.StartTimer(minutes)
	if err != nil {
		return rejected(err), nil
	}
	m := strconv.FormatFloat(minutes, 'f', -1, 64)
	return ok(fmt.Sprintf("Timer started for %s minute%s", m, plural(minutes))), out
}

func (p *Processor) handleMemory(caller string, _ []string) (game.CommandResponse, game.Effects) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ok(fmt.Sprintf("Memory usage: %s heap / %s sys, %d goroutines",
		humanize.IBytes(ms.HeapAlloc), humanize.IBytes(ms.Sys), runtime.NumGoroutine())), nil
}

func (p *Processor) handleHelp(caller string, _ []string) (game.CommandResponse, game.Effects) {
	if p.devCommands {
		return ok(msgHelpWithDev), nil
	}
	return ok(msgHelpBase), nil
}

func ok(msg string) game.CommandResponse {
	return game.CommandResponse{Success: true, Message: msg}
}

func fail(msg string) game.CommandResponse {
	return game.CommandResponse{Success: false, Message: msg}
}

func rejected(err error) game.CommandResponse {
	var ge *game.Error
	if errors.As(err, &ge) {
		return fail(ge.Msg)
	}
	return fail(err.Error())
}

func plural(n float64) string {
	if n == 1 {
		return ""
	}
	return "s"
}
