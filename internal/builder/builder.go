// Package builder implements the dedicated worker goroutine that executes
// load/shutdown commands against a writable segment and reports completion
// back to the manager. The command/response queue is a deliberately
// explicit mutex+condvar+slice pair, not a buffered channel: the design
// calls for the queue length itself (enqueues minus dequeues) to be an
// assertable, inspectable quantity rather than something hidden inside the
// runtime's channel implementation.
package builder

import (
	"context"
	"os"
	"sync"

	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/anantadwi13/memmgr/internal/loader"
	"github.com/anantadwi13/memmgr/internal/segment"
	"go.uber.org/zap"
)

// LoadCompleted is the response the builder posts after finishing a Load
// command, successfully or not. Err is always non-nil on loader failure;
// the manager drives SegmentInfo.CompleteUpdate forward regardless, per the
// resolved loader-failure design note — there is no retry and no distinct
// error state.
type LoadCompleted struct {
	Command *segment.Command
	Err     error
}

// Channel is the explicit command queue plus the completion queue plus the
// byte-level wake pipe the manager's select loop reads from. Exported
// fields are deliberately absent: QueueDepth is the only externally
// observable quantity, matching the "no buffered channel hides the queue
// length" requirement.
type Channel struct {
	mu   sync.Mutex
	cond *sync.Cond

	commands  []*segment.Command
	responses []LoadCompleted
	closed    bool

	wakeR     *os.File
	wakeW     *os.File
	wakeOnce  sync.Once
}

// NewChannel constructs a Channel with its wake pipe open.
func NewChannel() (*Channel, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	c := &Channel{wakeR: r, wakeW: w}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// WakeFD returns the read end of the wake pipe for the manager's select
// loop to poll.
func (c *Channel) WakeFD() *os.File { return c.wakeR }

// Send enqueues a build command for the builder goroutine. Called only by
// the manager goroutine.
func (c *Channel) Send(cmd *segment.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, cmd)
	c.cond.Broadcast()
}

// QueueDepth reports the number of commands enqueued but not yet dequeued
// by the builder, the literal "enqueues minus dequeues" testable property.
func (c *Channel) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.commands)
}

// next blocks until a command is available or the channel is closed, and
// dequeues it. Called only by the builder goroutine.
func (c *Channel) next() (*segment.Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.commands) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.commands) == 0 {
		return nil, false
	}
	cmd := c.commands[0]
	c.commands = c.commands[1:]
	return cmd, true
}

// postResponse enqueues a completion and wakes the manager's select loop
// with a single byte on the wake pipe.
func (c *Channel) postResponse(r LoadCompleted) {
	c.mu.Lock()
	c.responses = append(c.responses, r)
	c.mu.Unlock()
	_, _ = c.wakeW.Write([]byte{0})
}

// Drain dequeues every completion posted since the last Drain call. Called
// only by the manager goroutine, after observing a byte on the wake pipe.
func (c *Channel) Drain() []LoadCompleted {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.responses
	c.responses = nil
	return out
}

// Close unblocks a builder goroutine waiting in next(), causing Run to
// return, and closes both ends of the wake pipe so a goroutine blocked
// reading WakeFD() also unblocks with io.EOF. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()

	c.wakeOnce.Do(func() {
		c.wakeW.Close()
		c.wakeR.Close()
	})
}

// Builder is the worker: it owns no state beyond the loader and logger,
// since every segment it's directed at is reached through the Command it
// receives.
type Builder struct {
	ch     *Channel
	ld     loader.Loader
	logger *zap.Logger
}

// New constructs a Builder reading from ch and loading via ld.
func New(ch *Channel, ld loader.Loader, logger *zap.Logger) *Builder {
	return &Builder{ch: ch, ld: ld, logger: logger}
}

// Run is the builder goroutine's body: dequeue, execute, post completion,
// repeat, until a Shutdown command or the channel closes. It returns nil on
// a clean shutdown.
func (b *Builder) Run(ctx context.Context) error {
	for {
		cmd, ok := b.ch.next()
		if !ok {
			return nil
		}
		if cmd.Kind == segment.CommandShutdown {
			return nil
		}
		b.runLoad(ctx, cmd)
	}
}

func (b *Builder) runLoad(ctx context.Context, cmd *segment.Command) {
	seg := cmd.Target.WritableSegment()
	err := b.ld.Load(ctx, cmd.Class, cmd.DataSource, cmd.ZoneName, seg)
	if err != nil {
		b.logger.Error("zone load failed",
			zap.String("class", string(cmd.Class)),
			zap.String("datasource", string(cmd.DataSource)),
			zap.Uint64("generation", cmd.GenerationID),
			zap.Error(err),
		)
		err = domain.WrapError(domain.KindBuilderFailure, "zone load failed", err)
	}
	b.ch.postResponse(LoadCompleted{Command: cmd, Err: err})
}
